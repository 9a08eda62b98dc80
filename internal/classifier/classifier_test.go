package classifier

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/httpclient"
	"github.com/tphakala/wildwatch/internal/taxonomy"
)

const modelURL = "http://model.test/v1/predict"

var jpeg = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

func testTaxonomy(t *testing.T) *taxonomy.Taxonomy {
	t.Helper()
	tx, err := taxonomy.Default()
	require.NoError(t, err)
	return tx
}

func newMockedClassifier(t *testing.T, topK int) *HTTPClassifier {
	t.Helper()
	client := httpclient.New(nil)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	c, err := NewHTTPClassifier(client, modelURL, topK, testTaxonomy(t))
	require.NoError(t, err)
	return c
}

func TestHTTPClassifierPredict(t *testing.T) {
	c := newMockedClassifier(t, 3)

	httpmock.RegisterResponder(http.MethodPost, "=~^http://model\\.test/v1/predict",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "3", req.URL.Query().Get("top_k"))
			assert.Equal(t, "image/jpeg", req.Header.Get("Content-Type"))
			return httpmock.NewStringResponse(http.StatusOK, `{
				"predictions": [
					{"label": "roe deer07", "probability": 0.13},
					{"class": "goat", "score": 0.7},
					{"name": "wild boar", "confidence": 0.1}
				]
			}`), nil
		})

	res, err := c.Predict(context.Background(), Image{Data: jpeg})
	require.NoError(t, err)
	assert.False(t, res.Heuristic)
	assert.Equal(t, SourceModel, res.Source)
	require.Len(t, res.Labels, 3)
	assert.Equal(t, "goat", res.Labels[0].Label, "sorted by probability")

	top, ok := res.Top()
	require.True(t, ok)
	assert.InDelta(t, 0.7, top.Prob, 1e-9)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestHTTPClassifierPredictGrouped(t *testing.T) {
	c := newMockedClassifier(t, 2)

	httpmock.RegisterResponder(http.MethodPost, "=~^http://model\\.test/v1/predict",
		httpmock.NewStringResponder(http.StatusOK, `{"predictions": [
			{"label": "goat", "probability": 0.7},
			{"label": "roe deer07", "probability": 0.13},
			{"label": "wild boar", "probability": 0.1},
			{"label": "red fox", "probability": 0.07}
		]}`))

	res, err := c.PredictGrouped(context.Background(), Image{Data: jpeg})
	require.NoError(t, err)
	require.Len(t, res.Groups, 2)
	assert.Equal(t, "deer", res.Groups[0].Key)
	assert.Equal(t, "사슴류", res.Groups[0].Display)
	assert.InDelta(t, 0.83, res.Groups[0].Aggregate, 1e-9)
}

func TestHTTPClassifierFailures(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{"server error", httpmock.NewStringResponder(http.StatusInternalServerError, "boom")},
		{"not json", httpmock.NewStringResponder(http.StatusOK, "<html>")},
		{"missing array", httpmock.NewStringResponder(http.StatusOK, `{"result": []}`)},
		{"missing probability", httpmock.NewStringResponder(http.StatusOK, `{"predictions": [{"label": "goat"}]}`)},
		{"transport", httpmock.NewErrorResponder(errors.NewStd("connection refused"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newMockedClassifier(t, 3)
			httpmock.RegisterResponder(http.MethodPost, "=~^http://model\\.test/v1/predict", tt.responder)

			_, err := c.Predict(context.Background(), Image{Data: jpeg})
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryClassifier))
		})
	}
}

func TestHTTPClassifierRejectsBadInput(t *testing.T) {
	_, err := NewHTTPClassifier(httpclient.New(nil), "not a url", 3, testTaxonomy(t))
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	c := newMockedClassifier(t, 3)
	_, err = c.Predict(context.Background(), Image{})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestHintClassifier(t *testing.T) {
	t.Parallel()
	h := NewHintClassifier(testTaxonomy(t), 3)

	tests := []struct {
		filename  string
		wantTop   string
		wantCount int
	}{
		{"cam1_roe_deer_0042.jpg", "roe deer", 3},
		{"/uploads/2024/Wild-Boar.png", "", 0},
		{"IMG_wild_boar_7.jpeg", "wild boar", 1},
		{"fox.jpg", "red fox", 2},
		{"capture_0001.jpg", "", 0},
		{"", "", 0},
	}
	for _, tt := range tests {
		res, err := h.Predict(context.Background(), Image{Filename: tt.filename})
		require.NoError(t, err, tt.filename)
		assert.True(t, res.Heuristic, tt.filename)
		assert.Equal(t, SourceHint, res.Source)
		require.Len(t, res.Labels, tt.wantCount, tt.filename)
		if tt.wantCount > 0 {
			top, _ := res.Top()
			assert.Equal(t, tt.wantTop, top.Label, tt.filename)
			sum := 0.0
			for _, l := range res.Labels {
				sum += l.Prob
			}
			assert.InDelta(t, 1.0, sum, 1e-9)
		}
	}
}

func TestHintClassifierGrouped(t *testing.T) {
	t.Parallel()
	h := NewHintClassifier(testTaxonomy(t), 3)

	res, err := h.PredictGrouped(context.Background(), Image{Filename: "water_deer_3.jpg"})
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "deer", res.Groups[0].Key)
	assert.InDelta(t, 1.0, res.Groups[0].Aggregate, 1e-9)
}

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Predict(ctx context.Context, img Image) (*Result, error) {
	args := m.Called(ctx, img)
	res, _ := args.Get(0).(*Result)
	return res, args.Error(1)
}

func (m *mockClassifier) PredictGrouped(ctx context.Context, img Image) (*Result, error) {
	args := m.Called(ctx, img)
	res, _ := args.Get(0).(*Result)
	return res, args.Error(1)
}

func TestFallbackClassifier(t *testing.T) {
	t.Parallel()
	img := Image{Data: jpeg, Filename: "goat_1.jpg"}

	t.Run("primary succeeds", func(t *testing.T) {
		primary := &mockClassifier{}
		primary.On("Predict", mock.Anything, img).Return(&Result{Labels: []taxonomy.LabelProb{{Label: "goat", Prob: 0.9}}}, nil)
		f := &FallbackClassifier{Primary: primary, Fallback: NewHintClassifier(testTaxonomy(t), 3)}

		res, err := f.Predict(context.Background(), img)
		require.NoError(t, err)
		assert.False(t, res.Heuristic)
	})

	t.Run("primary fails", func(t *testing.T) {
		primary := &mockClassifier{}
		primary.On("PredictGrouped", mock.Anything, img).Return(nil, errors.NewStd("timeout"))
		var observed error
		f := &FallbackClassifier{
			Primary:   primary,
			Fallback:  NewHintClassifier(testTaxonomy(t), 3),
			OnFailure: func(err error) { observed = err },
		}

		res, err := f.PredictGrouped(context.Background(), img)
		require.NoError(t, err)
		assert.True(t, res.Heuristic)
		assert.Equal(t, "deer", res.Groups[0].Key)
		assert.Error(t, observed)
	})

	t.Run("no fallback", func(t *testing.T) {
		primary := &mockClassifier{}
		primary.On("Predict", mock.Anything, img).Return(nil, errors.NewStd("timeout"))
		f := &FallbackClassifier{Primary: primary}

		_, err := f.Predict(context.Background(), img)
		assert.Error(t, err)
	})

	t.Run("nothing configured", func(t *testing.T) {
		res, err := (&FallbackClassifier{}).Predict(context.Background(), img)
		require.NoError(t, err)
		assert.True(t, res.Empty())
	})
}
