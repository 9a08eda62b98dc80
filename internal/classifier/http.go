package classifier

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/antonholmquist/jason"

	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/httpclient"
	"github.com/tphakala/wildwatch/internal/taxonomy"
)

// SourceModel tags results produced by the remote model
const SourceModel = "model"

// HTTPClassifier posts the image to a model-serving endpoint. The response
// is a JSON object with a "predictions" array of {label, probability}.
// "class"/"name" and "score"/"confidence" are accepted as field aliases.
type HTTPClassifier struct {
	client   *httpclient.Client
	endpoint string
	topK     int
	tax      *taxonomy.Taxonomy
}

// NewHTTPClassifier returns a classifier for endpoint. Grouped predictions
// are folded locally with tax.
func NewHTTPClassifier(client *httpclient.Client, endpoint string, topK int, tax *taxonomy.Taxonomy) (*HTTPClassifier, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("invalid classifier endpoint %q", endpoint).
			Component("classifier").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &HTTPClassifier{client: client, endpoint: endpoint, topK: topK, tax: tax}, nil
}

// Predict implements Classifier
func (c *HTTPClassifier) Predict(ctx context.Context, img Image) (*Result, error) {
	if len(img.Data) == 0 {
		return nil, errors.Newf("empty image").
			Component("classifier").
			Category(errors.CategoryValidation).
			Build()
	}

	u, _ := url.Parse(c.endpoint)
	if c.topK > 0 {
		q := u.Query()
		q.Set("top_k", strconv.Itoa(c.topK))
		u.RawQuery = q.Encode()
	}

	resp, cancel, err := c.client.Post(ctx, u.String(), http.DetectContentType(img.Data), img.Data)
	defer cancel()
	if err != nil {
		return nil, c.fail(err, "request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.fail(fmt.Errorf("model endpoint returned %s", resp.Status), "status")
	}

	obj, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return nil, c.fail(err, "decode")
	}
	labels, err := parsePredictions(obj)
	if err != nil {
		return nil, c.fail(err, "decode")
	}
	return &Result{Labels: labels, Source: SourceModel}, nil
}

// PredictGrouped implements Classifier
func (c *HTTPClassifier) PredictGrouped(ctx context.Context, img Image) (*Result, error) {
	res, err := c.Predict(ctx, img)
	if err != nil {
		return nil, err
	}
	res.Groups = c.tax.GroupTopK(res.Labels, c.topK)
	return res, nil
}

func (c *HTTPClassifier) fail(err error, op string) error {
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryClassifier).
		Context("operation", op).
		Context("endpoint", c.endpoint).
		Build()
}

func parsePredictions(obj *jason.Object) ([]taxonomy.LabelProb, error) {
	items, err := obj.GetObjectArray("predictions")
	if err != nil {
		return nil, fmt.Errorf("missing predictions array: %w", err)
	}

	labels := make([]taxonomy.LabelProb, 0, len(items))
	for i, item := range items {
		label, ok := firstString(item, "label", "class", "name")
		if !ok {
			return nil, fmt.Errorf("prediction %d has no label", i)
		}
		prob, ok := firstFloat(item, "probability", "score", "confidence")
		if !ok {
			return nil, fmt.Errorf("prediction %d has no probability", i)
		}
		labels = append(labels, taxonomy.LabelProb{Label: label, Prob: prob})
	}
	slices.SortStableFunc(labels, func(a, b taxonomy.LabelProb) int {
		return cmp.Compare(b.Prob, a.Prob)
	})
	return labels, nil
}

func firstString(obj *jason.Object, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, err := obj.GetString(k); err == nil {
			return v, true
		}
	}
	return "", false
}

func firstFloat(obj *jason.Object, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, err := obj.GetFloat64(k); err == nil {
			return v, true
		}
	}
	return 0, false
}
