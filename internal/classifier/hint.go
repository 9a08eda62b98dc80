package classifier

import (
	"context"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/tphakala/wildwatch/internal/taxonomy"
)

// SourceHint tags results derived from the file name
const SourceHint = "filename-hint"

const hintProbability = 0.6

// HintClassifier derives a placeholder distribution from the image file
// name, e.g. "cam1_roe_deer_0042.jpg". It keeps offline and demo setups
// working and always flags its output as heuristic. A name without a known
// species yields an empty result.
type HintClassifier struct {
	tax  *taxonomy.Taxonomy
	topK int
}

// NewHintClassifier returns a hint classifier over tax
func NewHintClassifier(tax *taxonomy.Taxonomy, topK int) *HintClassifier {
	return &HintClassifier{tax: tax, topK: topK}
}

// Predict implements Classifier
func (h *HintClassifier) Predict(_ context.Context, img Image) (*Result, error) {
	res := &Result{Heuristic: true, Source: SourceHint}

	key := h.match(img.Filename)
	if key == "" {
		return res, nil
	}

	// the hinted species takes most of the mass, group siblings share the rest
	var siblings []string
	if g, ok := h.tax.Group(h.tax.GroupOf(key)); ok {
		for _, m := range g.Members {
			if m != key {
				siblings = append(siblings, m)
			}
		}
	}
	if len(siblings) == 0 {
		res.Labels = []taxonomy.LabelProb{{Label: key, Prob: 1}}
		return res, nil
	}

	res.Labels = append(res.Labels, taxonomy.LabelProb{Label: key, Prob: hintProbability})
	share := (1 - hintProbability) / float64(len(siblings))
	for _, s := range siblings {
		res.Labels = append(res.Labels, taxonomy.LabelProb{Label: s, Prob: share})
	}
	return res, nil
}

// PredictGrouped implements Classifier
func (h *HintClassifier) PredictGrouped(ctx context.Context, img Image) (*Result, error) {
	res, err := h.Predict(ctx, img)
	if err != nil {
		return nil, err
	}
	res.Groups = h.tax.GroupTopK(res.Labels, h.topK)
	return res, nil
}

// match finds the longest run of name tokens that normalizes to a known
// species, preferring earlier runs on ties.
func (h *HintClassifier) match(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	tokens := strings.FieldsFunc(base, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})

	const maxWords = 3
	for n := min(maxWords, len(tokens)); n > 0; n-- {
		for i := 0; i+n <= len(tokens); i++ {
			key := h.tax.Normalize(strings.Join(tokens[i:i+n], " "))
			if h.tax.Known(key) {
				return key
			}
		}
	}
	return ""
}
