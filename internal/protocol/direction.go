package protocol

import (
	"strings"

	"github.com/pion/sdp/v3"
)

// Direction is the media direction advertised by a media section.
type Direction string

const (
	DirectionSendRecv Direction = "sendrecv"
	DirectionSendOnly Direction = "sendonly"
	DirectionRecvOnly Direction = "recvonly"
	DirectionInactive Direction = "inactive"
	DirectionNone     Direction = "none" // no marker for this kind
)

// Directions holds the derived direction per media kind.
type Directions struct {
	Audio Direction `json:"audio"`
	Video Direction `json:"video"`
}

func asDirection(attr string) (Direction, bool) {
	switch d := Direction(attr); d {
	case DirectionSendRecv, DirectionSendOnly, DirectionRecvOnly, DirectionInactive:
		return d, true
	}
	return "", false
}

// ParseDirections derives the audio and video directions from an SDP blob.
// Within the sections of one kind the last marker wins. Session-level
// markers are ignored. It never fails: text that does not parse as SDP is
// scanned line by line instead.
func ParseDirections(payload string) Directions {
	out := Directions{Audio: DirectionNone, Video: DirectionNone}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(payload)); err != nil {
		scanDirections(payload, &out)
		return out
	}

	for _, md := range parsed.MediaDescriptions {
		for _, a := range md.Attributes {
			d, ok := asDirection(a.Key)
			if !ok {
				continue
			}
			out.set(md.MediaName.Media, d)
		}
	}
	return out
}

// scanDirections is the fallback for payloads pion/sdp rejects, e.g. a
// truncated paste.
func scanDirections(payload string, out *Directions) {
	current := ""
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "m=") {
			fields := strings.Fields(strings.TrimPrefix(line, "m="))
			current = ""
			if len(fields) > 0 {
				current = fields[0]
			}
			continue
		}
		if current == "" || !strings.HasPrefix(line, "a=") {
			continue
		}
		if d, ok := asDirection(strings.TrimPrefix(line, "a=")); ok {
			out.set(current, d)
		}
	}
}

func (d *Directions) set(kind string, dir Direction) {
	switch kind {
	case "audio":
		d.Audio = dir
	case "video":
		d.Video = dir
	}
}
