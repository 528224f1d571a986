package gps

import (
	"testing"
)

func TestDecodeTPVLocationAndVelocity(t *testing.T) {
	line := `{"class":"TPV","lat":37.780924,"lon":-122.406829,"alt":15.2,"speed":1.5,"track":45.0}`
	upd, err := decodeLine([]byte(line))
	if err != nil {
		t.Fatalf("decodeLine: %v", err)
	}

	if upd.location == nil {
		t.Fatalf("expected location")
	}
	if upd.location.Lat != 37.780924 || upd.location.Lon != -122.406829 {
		t.Fatalf("location=%+v", upd.location)
	}
	if upd.location.Alt == nil || *upd.location.Alt != 15.2 {
		t.Fatalf("alt=%v", upd.location.Alt)
	}

	if upd.velocity == nil {
		t.Fatalf("expected velocity")
	}
	if upd.velocity.SpeedMS == nil || *upd.velocity.SpeedMS != 1.5 {
		t.Fatalf("speed=%v", upd.velocity.SpeedMS)
	}
	if upd.velocity.TrackDeg == nil || *upd.velocity.TrackDeg != 45.0 {
		t.Fatalf("track=%v", upd.velocity.TrackDeg)
	}
	if upd.velocity.ClimbMS != nil {
		t.Fatalf("climb should be absent, got %v", *upd.velocity.ClimbMS)
	}
}

func TestDecodeTPVNoFixMode(t *testing.T) {
	line := `{"class":"TPV","mode":1,"lat":37.0,"lon":-122.0}`
	upd, err := decodeLine([]byte(line))
	if err != nil {
		t.Fatalf("decodeLine: %v", err)
	}
	if !upd.empty() {
		t.Fatalf("mode 1 should produce nothing, got %+v", upd)
	}
}

func TestDecodeTPV2DFixDropsAltitude(t *testing.T) {
	line := `{"class":"TPV","mode":2,"lat":37.0,"lon":-122.0,"alt":99.0}`
	upd, err := decodeLine([]byte(line))
	if err != nil {
		t.Fatalf("decodeLine: %v", err)
	}
	if upd.location == nil {
		t.Fatalf("expected location")
	}
	if upd.location.Alt != nil {
		t.Fatalf("2D fix must not carry altitude, got %v", *upd.location.Alt)
	}
}

func TestDecodeTPVPrefersAltMSL(t *testing.T) {
	line := `{"class":"TPV","mode":3,"lat":37.0,"lon":-122.0,"alt":10.0,"altMSL":12.5}`
	upd, err := decodeLine([]byte(line))
	if err != nil {
		t.Fatalf("decodeLine: %v", err)
	}
	if upd.location == nil || upd.location.Alt == nil {
		t.Fatalf("expected altitude")
	}
	if *upd.location.Alt != 12.5 {
		t.Fatalf("alt=%v want altMSL 12.5", *upd.location.Alt)
	}
}

func TestDecodeTPVVelocityOnly(t *testing.T) {
	line := `{"class":"TPV","mode":3,"speed":0.0,"climb":-0.2}`
	upd, err := decodeLine([]byte(line))
	if err != nil {
		t.Fatalf("decodeLine: %v", err)
	}
	if upd.location != nil {
		t.Fatalf("no lat/lon must mean no location")
	}
	if upd.velocity == nil {
		t.Fatalf("expected velocity")
	}
	if upd.velocity.SpeedMS == nil || *upd.velocity.SpeedMS != 0.0 {
		t.Fatalf("explicit zero speed must survive, got %v", upd.velocity.SpeedMS)
	}
	if upd.velocity.ClimbMS == nil || *upd.velocity.ClimbMS != -0.2 {
		t.Fatalf("climb=%v", upd.velocity.ClimbMS)
	}
	if upd.velocity.TrackDeg != nil {
		t.Fatalf("track should be absent")
	}
}

func TestDecodeSKYCountsUsedSatellites(t *testing.T) {
	line := `{"class":"SKY","hdop":1.2,"vdop":1.8,"pdop":2.1,"satellites":[` +
		`{"used":true},{"used":true},{"used":true},{"used":true},` +
		`{"used":true},{"used":true},{"used":true},{"used":true},` +
		`{"used":false},{"used":false},{"used":false},{"used":false}]}`
	upd, err := decodeLine([]byte(line))
	if err != nil {
		t.Fatalf("decodeLine: %v", err)
	}
	if upd.quality == nil {
		t.Fatalf("expected quality")
	}
	q := upd.quality
	if q.Satellites != 12 || q.SatellitesUsed != 8 {
		t.Fatalf("sats=%d used=%d", q.Satellites, q.SatellitesUsed)
	}
	if q.HDOP == nil || *q.HDOP != 1.2 {
		t.Fatalf("hdop=%v", q.HDOP)
	}
	if q.VDOP == nil || *q.VDOP != 1.8 {
		t.Fatalf("vdop=%v", q.VDOP)
	}
	if q.PDOP == nil || *q.PDOP != 2.1 {
		t.Fatalf("pdop=%v", q.PDOP)
	}
}

func TestDecodeSKYDirectCounts(t *testing.T) {
	line := `{"class":"SKY","nSat":10,"uSat":6}`
	upd, err := decodeLine([]byte(line))
	if err != nil {
		t.Fatalf("decodeLine: %v", err)
	}
	if upd.quality == nil {
		t.Fatalf("expected quality")
	}
	if upd.quality.Satellites != 10 || upd.quality.SatellitesUsed != 6 {
		t.Fatalf("quality=%+v", upd.quality)
	}
	if upd.quality.HDOP != nil {
		t.Fatalf("hdop should be absent")
	}
}

func TestDecodeSKYClampsUsed(t *testing.T) {
	line := `{"class":"SKY","nSat":4,"uSat":9}`
	upd, err := decodeLine([]byte(line))
	if err != nil {
		t.Fatalf("decodeLine: %v", err)
	}
	if upd.quality.SatellitesUsed != 4 {
		t.Fatalf("used=%d want clamp to 4", upd.quality.SatellitesUsed)
	}
}

func TestDecodeIgnoresOtherClasses(t *testing.T) {
	for _, line := range []string{
		`{"class":"VERSION","release":"3.25"}`,
		`{"class":"DEVICES","devices":[]}`,
		`{"class":"WATCH","enable":true}`,
	} {
		upd, err := decodeLine([]byte(line))
		if err != nil {
			t.Fatalf("decodeLine(%s): %v", line, err)
		}
		if !upd.empty() {
			t.Fatalf("class should be ignored: %s", line)
		}
	}
}

func TestDecodeMalformedLine(t *testing.T) {
	if _, err := decodeLine([]byte(`{"class":"TPV",`)); err == nil {
		t.Fatalf("expected parse error")
	}
}
