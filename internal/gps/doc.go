package gps

// Package gps provides a minimal gpsd client for robot positioning.
//
// It is intentionally small and geared toward agent bring-up:
// - Watch gpsd's JSON report stream over TCP
// - Decode TPV into location and velocity, SKY into fix quality
// - Publish each category as an independent live stream with a latest-value cache
