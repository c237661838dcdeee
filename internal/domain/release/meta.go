package release

import "time"

// DownloadStat records one served artifact.
type DownloadStat struct {
	Version   string    `json:"version"`
	Platform  string    `json:"platform"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats aggregates download records.
type Stats struct {
	Total      int            `json:"total"`
	ByVersion  map[string]int `json:"byVersion"`
	ByPlatform map[string]int `json:"byPlatform"`
	ByDay      map[string]int `json:"byDay"`
}

// Aggregate counts stats by version, platform and UTC day.
func Aggregate(stats []DownloadStat) *Stats {
	out := &Stats{
		Total:      len(stats),
		ByVersion:  make(map[string]int),
		ByPlatform: make(map[string]int),
		ByDay:      make(map[string]int),
	}

	for _, s := range stats {
		out.ByVersion[s.Version]++
		out.ByPlatform[s.Platform]++
		out.ByDay[s.Timestamp.UTC().Format(time.DateOnly)]++
	}

	return out
}

// ServerMeta holds keys registered at runtime. Non-empty values take precedence
// over the process configuration.
type ServerMeta struct {
	PublicKey  string `json:"publicKey"`
	APIKeyHash string `json:"apiKeyHash"`
	CreatedAt  string `json:"createdAt"`
}
