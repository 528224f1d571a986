package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

const gpsdDefaultAddr = "localhost:2947"

// dialGPSD connects to gpsd over TCP.
func dialGPSD(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := &net.Dialer{Timeout: timeout}
	if ctx == nil {
		return d.Dial("tcp", addr)
	}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON streaming reports.
func gpsdWatch(conn net.Conn) error {
	// scaled=true yields SI units (m/s, meters) and degrees.
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdMsgBase struct {
	Class string `json:"class"`
}

type gpsdTPV struct {
	Mode *int   `json:"mode"`
	Time string `json:"time"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	Alt     *float64 `json:"alt"`
	AltMSL  *float64 `json:"altMSL"`
	SpeedMS *float64 `json:"speed"`
	Track   *float64 `json:"track"`
	ClimbMS *float64 `json:"climb"`
}

type gpsdSat struct {
	Used bool `json:"used"`
}

type gpsdSKY struct {
	HDOP *float64 `json:"hdop"`
	VDOP *float64 `json:"vdop"`
	PDOP *float64 `json:"pdop"`

	Satellites []gpsdSat `json:"satellites"`

	// Some gpsd versions report counts directly instead of (or in addition
	// to) the satellite list.
	NSat *int `json:"nSat"`
	USat *int `json:"uSat"`
}

// update carries the values decoded from one report line. Nil members mean the
// line did not produce that category.
type update struct {
	location *Location
	velocity *Velocity
	quality  *Quality
}

func (u update) empty() bool {
	return u.location == nil && u.velocity == nil && u.quality == nil
}

// decodeLine classifies one gpsd report. Unknown classes decode to an empty
// update; malformed JSON returns an error. Both are non-fatal to the caller.
func decodeLine(line []byte) (update, error) {
	var base gpsdMsgBase
	if err := json.Unmarshal(line, &base); err != nil {
		return update{}, fmt.Errorf("gpsd json parse failed: %v", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal(line, &tpv); err != nil {
			return update{}, fmt.Errorf("gpsd tpv parse failed: %v", err)
		}
		return decodeTPV(tpv), nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal(line, &sky); err != nil {
			return update{}, fmt.Errorf("gpsd sky parse failed: %v", err)
		}
		return decodeSKY(sky), nil
	default:
		// Ignore other gpsd reports (e.g. VERSION/DEVICES/WATCH).
		return update{}, nil
	}
}

func decodeTPV(tpv gpsdTPV) update {
	var out update

	// mode 2 = 2D fix, mode 3 = 3D fix. When the daemon reports a mode below
	// 2 there is no position worth publishing. A missing mode field leaves
	// field presence as the only signal, so take the fields as given.
	if tpv.Mode != nil && *tpv.Mode < 2 {
		return out
	}

	if tpv.Lat != nil && tpv.Lon != nil {
		loc := Location{Lat: *tpv.Lat, Lon: *tpv.Lon}

		altM := tpv.AltMSL
		if altM == nil {
			altM = tpv.Alt
		}
		// Altitude only carries meaning with a 3D fix.
		if altM != nil && (tpv.Mode == nil || *tpv.Mode >= 3) {
			v := *altM
			loc.Alt = &v
		}
		out.location = &loc
	}

	if tpv.SpeedMS != nil || tpv.Track != nil || tpv.ClimbMS != nil {
		out.velocity = &Velocity{
			SpeedMS:  tpv.SpeedMS,
			TrackDeg: tpv.Track,
			ClimbMS:  tpv.ClimbMS,
		}
	}

	return out
}

func decodeSKY(sky gpsdSKY) update {
	q := Quality{
		HDOP: sky.HDOP,
		VDOP: sky.VDOP,
		PDOP: sky.PDOP,
	}

	if len(sky.Satellites) > 0 {
		q.Satellites = len(sky.Satellites)
		for _, sat := range sky.Satellites {
			if sat.Used {
				q.SatellitesUsed++
			}
		}
	} else {
		if sky.NSat != nil {
			q.Satellites = *sky.NSat
		}
		if sky.USat != nil {
			q.SatellitesUsed = *sky.USat
		}
	}
	if q.SatellitesUsed > q.Satellites {
		q.SatellitesUsed = q.Satellites
	}

	return update{quality: &q}
}
