// Package types holds the wire-level DTOs exchanged over the message
// broker and the daily raw log: JSON-tagged structs with no behaviour of
// their own.
package types

// RawPassing is the verbatim record published on the rawpass topic and the
// daily raw log, before any clock correction is applied.
type RawPassing struct {
	Mpid    int    `json:"mpid"`
	Refid   string `json:"refid"`
	RawTod  string `json:"raw_tod"`
	RecvTod string `json:"recv_tod"`
	Env     string `json:"env,omitempty"`
	Info    string `json:"info,omitempty"`
}

// EmissionRecord is the fully decorated passing published on the passing
// topic.
type EmissionRecord struct {
	Index       int     `json:"index"`
	Mpid        int     `json:"mpid"`
	Refid       string  `json:"refid"`
	Time        string  `json:"time"`
	Elap        *string `json:"elap"`
	Lap         *string `json:"lap"`
	Half        *string `json:"half"`
	Qtr         *string `json:"qtr"`
	M200        *string `json:"200"`
	M100        *string `json:"100"`
	M50         *string `json:"50"`
	Moto        *string `json:"moto"`
	Env         string  `json:"env,omitempty"`
	Text        string  `json:"text,omitempty"`
	OutOfOrder  bool    `json:"out_of_order,omitempty"`
}

// DecoderSnapshot is the per-channel summary mirrored to the session cache
// and embedded in status records.
type DecoderSnapshot struct {
	Mpid   int     `json:"mpid"`
	Name   string  `json:"name"`
	State  string  `json:"state"`
	Offset float64 `json:"offset"`
	Noise  float64 `json:"noise"`
}

// RiderSnapshot is the per-refid summary mirrored to the session cache.
type RiderSnapshot struct {
	Refid       string `json:"refid"`
	InRun       bool   `json:"in_run"`
	LastMpid    int    `json:"last_mpid"`
	LastTod     string `json:"last_tod"`
	RunStartTod string `json:"run_start_tod,omitempty"`
}

// StatusRecord is published on the status topic at each top-of-minute tick.
type StatusRecord struct {
	Tod       string            `json:"tod"`
	UTCOffset string            `json:"utc_offset"`
	DailyCt   int               `json:"daily_count"`
	LastGate  string            `json:"last_gate_tod,omitempty"`
	LowBatt   []string          `json:"low_battery,omitempty"`
	Sessions  []DecoderSnapshot `json:"sessions"`
	Info      string            `json:"info"`
}

// ReplayFilter describes a query against the in-memory emission log.
type ReplayFilter struct {
	FromIndex  *int     `json:"from_index,omitempty"`
	ToIndex    *int     `json:"to_index,omitempty"`
	FromTod    string   `json:"from_tod,omitempty"`
	ToTod      string   `json:"to_tod,omitempty"`
	Mpids      []int    `json:"mpids,omitempty"`
	Refids     []string `json:"refids,omitempty"`
	PostMarker []string `json:"post_marker,omitempty"`
}

// SessionSummary is the one durable record archived per completed day.
type SessionSummary struct {
	SessionID     string             `json:"session_id"`
	Day           string             `json:"day"`
	ResetCount    int                `json:"reset_count"`
	TotalEmitted  int                `json:"total_emitted"`
	IsolatedCount int                `json:"isolated_count"`
	FinalNoise    []DecoderSnapshot  `json:"final_noise"`
	StartWall     string             `json:"start_wall"`
	EndWall       string             `json:"end_wall"`
}
