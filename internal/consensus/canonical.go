package consensus

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// CanonicalBytes serializes an EpochResult into the frozen consensus form:
// a JSON object with fixed key order, map keys sorted bytewise, integers in
// decimal, and floats quantized to 12 significant digits. Hand-built so no
// encoder change can silently reorder keys.
func CanonicalBytes(result *models.EpochResult) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString(`"minerScores":`)
	writeFloatMap(&buf, result.MinerScores)

	buf.WriteString(`,"totalEpochListings":`)
	buf.WriteString(strconv.Itoa(result.TotalEpochListings))

	buf.WriteString(`,"totalParticipants":`)
	buf.WriteString(strconv.Itoa(result.TotalParticipants))

	buf.WriteString(`,"totalWinners":`)
	buf.WriteString(strconv.Itoa(result.TotalWinners))

	buf.WriteString(`,"zipcodeWeights":`)
	writeFloatMap(&buf, result.ZipcodeWeights)

	buf.WriteByte('}')
	return buf.Bytes()
}

// Hash computes the consensus hash: hex SHA-256 over the canonical bytes.
func Hash(result *models.EpochResult) string {
	sum := sha256.Sum256(CanonicalBytes(result))
	return hex.EncodeToString(sum[:])
}

func writeFloatMap(buf *bytes.Buffer, m map[string]float64) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(k))
		buf.WriteByte(':')
		buf.WriteString(QuantizeFloat(m[k]))
	}
	buf.WriteByte('}')
}

// QuantizeFloat renders a float with 12 significant digits, round half to
// even. Scientific notation keeps the representation unambiguous across
// magnitudes.
func QuantizeFloat(f float64) string {
	return strconv.FormatFloat(f, 'e', 11, 64)
}
