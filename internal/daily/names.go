package daily

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/bpoc/video-calls/internal/models"
)

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// RoomName builds a human-diagnosable room name such as "r1-john-dec19-x7k2".
func RoomName(callType models.CallType, participantName, hostName string, now time.Time) string {
	name := "guest"
	source := participantName
	if source == "" {
		source = hostName
	}
	if fields := strings.Fields(source); len(fields) > 0 {
		first := strings.ToLower(nonAlnum.ReplaceAllString(fields[0], ""))
		if len(first) > 10 {
			first = first[:10]
		}
		if first != "" {
			name = first
		}
	}
	date := strings.ToLower(now.Format("Jan")) + now.Format("2")
	return callType.Short() + "-" + name + "-" + date + "-" + randomSuffix(4)
}

func randomSuffix(n int) string {
	var b strings.Builder
	max := big.NewInt(int64(len(suffixAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			b.WriteByte(suffixAlphabet[i%len(suffixAlphabet)])
			continue
		}
		b.WriteByte(suffixAlphabet[idx.Int64()])
	}
	return b.String()
}

var roleSuffix = regexp.MustCompile(`(?i)\s+(—|-|\()\s*(Recruiter|Candidate|Client)\)?\s*$`)

// DisplayName appends the role suffix shown inside the call ("Jane Doe — Recruiter").
func DisplayName(name, role string) string {
	switch role {
	case models.ParticipantRoleHost:
		if name == "" {
			return "Recruiter"
		}
		return name + " — Recruiter"
	case models.ParticipantRoleCandidate:
		if name == "" {
			return "Candidate"
		}
		return name + " — Candidate"
	}
	return name
}

// StripRoleSuffix removes a trailing " — Recruiter" or " (Candidate)" style suffix.
func StripRoleSuffix(name string) string {
	return strings.TrimSpace(roleSuffix.ReplaceAllString(name, ""))
}
