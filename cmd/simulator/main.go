package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nandanugg/tracker-relay/config"
)

type fixMessage struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Accuracy  float64 `json:"acc"`
	Speed     float64 `json:"vel"`
	Timestamp int64   `json:"tst"`
	Battery   int     `json:"batt"`
}

const metersPerDegree = 111320.0

// walk circles a point orbit meters east of (lat, lon). Each lap passes
// through (lat, lon) and gets 2*orbit away from it, so a waypoint there with
// a smaller radius sees an enter and a leave per lap.
type walk struct {
	lat, lon float64
	orbit    float64
	step     float64
	angle    float64
}

func (w *walk) next() (float64, float64) {
	w.angle += w.step
	dLat := w.orbit * math.Cos(w.angle) / metersPerDegree
	dLon := w.orbit * math.Sin(w.angle) / (metersPerDegree * math.Cos(w.lat*math.Pi/180))
	return w.lat + dLat, w.lon + dLon + w.orbit/(metersPerDegree*math.Cos(w.lat*math.Pi/180))
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <interval_seconds>\n", os.Args[0])
		os.Exit(1)
	}

	intervalSec, err := strconv.Atoi(os.Args[1])
	if err != nil || intervalSec <= 0 {
		fmt.Fprintf(os.Stderr, "error: interval must be a positive integer\n")
		os.Exit(1)
	}

	cfg := config.Load()
	log := config.NewLogger(cfg)

	target := "http://localhost:" + cfg.HTTPPort + "/fixes"
	if v := os.Getenv("TRACKER_URL"); v != "" {
		target = v
	}

	w := &walk{lat: 52.5200, lon: 13.4050, orbit: 150, step: math.Pi / 8}
	client := &http.Client{Timeout: 10 * time.Second}
	battery := 100

	log.Infof("posting fixes to %s every %ds...", target, intervalSec)

	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		lat, lon := w.next()
		msg := fixMessage{
			Latitude:  lat,
			Longitude: lon,
			Accuracy:  5 + rand.Float64()*10,
			Speed:     4 + rand.Float64()*2,
			Timestamp: time.Now().Unix(),
			Battery:   battery,
		}
		if battery > 5 && rand.Intn(10) == 0 {
			battery--
		}

		payload, _ := json.Marshal(msg)
		resp, err := client.Post(target, "application/json", bytes.NewReader(payload))
		if err != nil {
			log.WithError(err).Warn("post fix")
			continue
		}
		_ = resp.Body.Close()

		log.WithFields(logrus.Fields{"status": resp.StatusCode, "lat": lat, "lon": lon}).Info("posted fix")
	}
}
