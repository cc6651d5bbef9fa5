package domain

import (
	"strconv"
	"strings"
	"time"
)

// LiveTag is the source tag carried by messages that arrived over the event stream.
const LiveTag = "live"

type Message struct {
	ID        string    `json:"id"`
	SourceTag string    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Channel   string    `json:"channel"`
	Text      string    `json:"text"`
}

type Channel struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	IsPrivate  bool      `json:"is_private"`
	NumMembers int       `json:"num_members"`
	Purpose    string    `json:"purpose"`
	Updated    time.Time `json:"updated"`
}

type LoadingStatus struct {
	IsLoading      bool    `json:"isLoading"`
	CurrentChannel *string `json:"currentChannel"`
	Completed      int     `json:"completed"`
	Total          int     `json:"total"`
	Message        string  `json:"message"`
}

// ParseTS converts a Slack "seconds.micros" timestamp into UTC time.
// Malformed input yields the zero time.
func ParseTS(ts string) time.Time {
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}
	}

	var nsec int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		fracPart += strings.Repeat("0", 9-len(fracPart))
		nsec, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			nsec = 0
		}
	}

	return time.Unix(sec, nsec).UTC()
}
