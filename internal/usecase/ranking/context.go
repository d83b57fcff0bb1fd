package ranking

import (
	"hash/fnv"
	"math"

	"github.com/fairyhunter13/recrank/internal/adapter/scorer"
	"github.com/fairyhunter13/recrank/internal/domain"
)

// contextDim matches scorer.ContextDim, the fixed width of the projected
// context feature block appended after the viewer and item vectors.
const contextDim = scorer.ContextDim

// projectContext turns a RequestContext into the fixed-width context feature
// block (spec.md §4.7 step 3): hour-of-day, weekday, weekend flag, a
// cyclical hour encoding, and hashed device/location buckets.
func projectContext(rc domain.RequestContext) [contextDim]float32 {
	var out [contextDim]float32
	hour := rc.Now.Hour()
	weekday := int(rc.Now.Weekday())

	out[0] = float32(hour) / 24.0
	out[1] = float32(weekday) / 7.0
	if weekday == 0 || weekday == 6 {
		out[2] = 1
	}
	out[3] = float32(math.Sin(2 * math.Pi * float64(hour) / 24.0))
	out[4] = float32(math.Cos(2 * math.Pi * float64(hour) / 24.0))
	out[5] = float32(bucketHash(rc.DeviceKind, 10)) / 10.0
	out[6] = float32(bucketHash(rc.Location, 100)) / 100.0
	out[7] = 0
	return out
}

func bucketHash(s string, mod int) int {
	if s == "" || mod <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32()) % mod
}

// assembleFeatures concatenates the viewer vector, item vector, and
// projected context block in the fixed positional order the Scorer expects.
func assembleFeatures(vf domain.ViewerFeatures, itf domain.ItemFeatures, ctxFeat [contextDim]float32) []float32 {
	row := make([]float32, 0, scorer.FeatureDim)
	row = append(row, vf.Vector[:]...)
	row = append(row, itf.Vector[:]...)
	row = append(row, ctxFeat[:]...)
	return row
}
