package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Trip is an exported travel journal (Polarsteps format).
type Trip struct {
	ID       int64      `json:"id"`
	UserID   int64      `json:"user_id"`
	Name     string     `json:"name"`
	Summary  string     `json:"summary,omitempty"`
	AllSteps []TripStep `json:"all_steps"`
}

// TripStep is one journal entry of a trip.
type TripStep struct {
	ID                 int64    `json:"id"`
	DisplayName        string   `json:"display_name"`
	Description        string   `json:"description,omitempty"`
	LocationName       string   `json:"location_name"`
	Lat                float64  `json:"lat"`
	Lon                float64  `json:"lon"`
	Detail             string   `json:"detail"`
	CountryCode        string   `json:"country_code"`
	WeatherCondition   string   `json:"weather_condition,omitempty"`
	WeatherTemperature *float64 `json:"weather_temperature,omitempty"`
}

type rawLocation struct {
	Name        string  `json:"name"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Detail      string  `json:"detail"`
	FullDetail  string  `json:"full_detail"`
	CountryCode string  `json:"country_code"`
}

type rawStep struct {
	ID                 int64        `json:"id"`
	DisplayName        string       `json:"display_name"`
	Description        *string      `json:"description"`
	Location           *rawLocation `json:"location"`
	WeatherCondition   *string      `json:"weather_condition"`
	WeatherTemperature *float64     `json:"weather_temperature"`
}

type rawTrip struct {
	ID       int64     `json:"id"`
	UserID   int64     `json:"user_id"`
	Name     string    `json:"name"`
	Summary  *string   `json:"summary"`
	AllSteps []rawStep `json:"all_steps"`
}

// ParseTrip decodes a raw trip export, filling the defaults used for indexing.
func ParseTrip(data []byte) (*Trip, error) {
	var raw rawTrip
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode trip: %w", err)
	}
	if raw.Name == "" {
		return nil, fmt.Errorf("decode trip: missing name")
	}

	trip := &Trip{
		ID:       raw.ID,
		UserID:   raw.UserID,
		Name:     raw.Name,
		AllSteps: make([]TripStep, 0, len(raw.AllSteps)),
	}
	if raw.Summary != nil {
		trip.Summary = *raw.Summary
	}
	for _, s := range raw.AllSteps {
		trip.AllSteps = append(trip.AllSteps, s.normalize())
	}
	return trip, nil
}

func (s rawStep) normalize() TripStep {
	loc := rawLocation{}
	if s.Location != nil {
		loc = *s.Location
	}
	step := TripStep{
		ID:                 s.ID,
		DisplayName:        firstNonEmpty(s.DisplayName, loc.Name, "Unknown"),
		LocationName:       firstNonEmpty(loc.Name, "Unknown"),
		Lat:                loc.Lat,
		Lon:                loc.Lon,
		Detail:             firstNonEmpty(loc.Detail, loc.FullDetail),
		CountryCode:        firstNonEmpty(loc.CountryCode, "XX"),
		WeatherTemperature: s.WeatherTemperature,
	}
	if s.Description != nil {
		step.Description = *s.Description
	}
	if s.WeatherCondition != nil {
		step.WeatherCondition = *s.WeatherCondition
	}
	return step
}

// Text returns the text that represents the step in the vector store.
func (s TripStep) Text() string {
	if s.Description != "" {
		return s.Description
	}
	return s.DisplayName
}

// Payload returns the journal entry payload stored next to the vector.
func (s TripStep) Payload() JournalEntry {
	p := JournalEntry{
		"id":            strconv.FormatInt(s.ID, 10),
		"display_name":  s.DisplayName,
		"description":   s.Description,
		"location_name": s.LocationName,
		"lat":           s.Lat,
		"lon":           s.Lon,
		"detail":        s.Detail,
		"country_code":  s.CountryCode,
	}
	if s.WeatherCondition != "" {
		p["weather_condition"] = s.WeatherCondition
	}
	if s.WeatherTemperature != nil {
		p["weather_temperature"] = *s.WeatherTemperature
	}
	return p
}

// JournalEntry is the opaque payload of an indexed journal entry.
type JournalEntry map[string]any

// Description returns the entry's description, or "" when absent.
func (e JournalEntry) Description() string {
	return e.String("description")
}

// String returns the string value stored under key.
func (e JournalEntry) String(key string) string {
	if v, ok := e[key].(string); ok {
		return v
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
