package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/nandanugg/tracker-relay/config"
)

type waypoint struct {
	Type        string  `json:"_type"`
	Description string  `json:"desc"`
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
	Radius      int     `json:"rad"`
}

type waypointList struct {
	Type      string     `json:"_type"`
	Waypoints []waypoint `json:"waypoints"`
}

type command struct {
	Type      string        `json:"_type"`
	Action    string        `json:"action"`
	Waypoints *waypointList `json:"waypoints,omitempty"`
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s reportLocation | clearWaypoints | waypoints | setWaypoint <desc> <lat> <lon> <radius>\n", os.Args[0])
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cmd := command{Type: "cmd", Action: os.Args[1]}
	switch cmd.Action {
	case "reportLocation", "clearWaypoints", "waypoints":
	case "setWaypoint":
		if len(os.Args) != 6 {
			usage()
		}
		lat, errLat := strconv.ParseFloat(os.Args[3], 64)
		lon, errLon := strconv.ParseFloat(os.Args[4], 64)
		rad, errRad := strconv.Atoi(os.Args[5])
		if errLat != nil || errLon != nil || errRad != nil {
			usage()
		}
		cmd.Action = "setWaypoints"
		cmd.Waypoints = &waypointList{
			Type:      "waypoints",
			Waypoints: []waypoint{{Type: "waypoint", Description: os.Args[2], Latitude: lat, Longitude: lon, Radius: rad}},
		}
	default:
		usage()
	}

	cfg := config.Load()
	log := config.NewLogger(cfg)

	client, err := config.NewMQTT(cfg, cfg.MQTTClientID+"-remote")
	if err != nil {
		log.Fatalf("mqtt: %v", err)
	}
	defer client.Disconnect(250)

	payload, _ := json.Marshal(cmd)
	topic := cfg.BaseTopic + "/cmd"

	token := client.Publish(topic, byte(cfg.MQTTQoS), false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Fatalf("publish: %v", err)
	}

	log.Infof("published to %s: %s", topic, payload)
}
