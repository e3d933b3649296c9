package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExtractor(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		key     string
		content string
		want    float64
		wantErr string
	}{
		{name: "json nested", format: FormatJSON, key: "stats.rsplit", content: `{"stats": {"rsplit": 0.125}}`, want: 0.125},
		{name: "json array index", format: FormatJSON, key: "runs.1.score", content: `{"runs": [{"score": 1}, {"score": 2.5}]}`, want: 2.5},
		{name: "json top level", format: FormatJSON, key: "rsplit", content: `{"rsplit": -3e-2}`, want: -0.03},
		{name: "json truncated", format: FormatJSON, key: "rsplit", content: `{"rsplit": 0.1`, wantErr: "incomplete or invalid json"},
		{name: "json string value", format: FormatJSON, key: "rsplit", content: `{"rsplit": "high"}`, wantErr: "not numeric"},
		{name: "json object value", format: FormatJSON, key: "stats", content: `{"stats": {"a": 1}}`, wantErr: "not numeric"},
		{name: "json quoted infinity", format: FormatJSON, key: "rsplit", content: `{"rsplit": "-Inf"}`, wantErr: "not finite"},
		{name: "yaml nested", format: FormatYAML, key: "stats.rsplit", content: "stats:\n  rsplit: 0.5\n", want: 0.5},
		{name: "yaml integer", format: FormatYAML, key: "count", content: "count: 7\n", want: 7},
		{name: "yaml list", format: FormatYAML, key: "runs.0", content: "runs:\n  - 1.5\n  - 2\n", want: 1.5},
		{name: "yaml nan", format: FormatYAML, key: "rsplit", content: "rsplit: .nan\n", wantErr: "not finite"},
		{name: "yaml missing", format: FormatYAML, key: "stats.other", content: "stats:\n  rsplit: 0.5\n", wantErr: "key not present"},
		{name: "text space", format: FormatText, key: "rsplit", content: "events 120\nrsplit 0.75\n", want: 0.75},
		{name: "text colon", format: FormatText, key: "rsplit", content: "rsplit: 0.3 (final)\n", want: 0.3},
		{name: "text equals", format: FormatText, key: "rsplit", content: "rsplit = 0.4\n", want: 0.4},
		{name: "text last wins", format: FormatText, key: "rsplit", content: "rsplit 0.9\nrsplit 0.1\n", want: 0.1},
		{name: "text prefix name", format: FormatText, key: "rsplit", content: "rsplit_err 0.9\n", wantErr: "key not present"},
		{name: "text bad value", format: FormatText, key: "rsplit", content: "rsplit pending\n", wantErr: "not numeric"},
		{name: "empty", format: FormatJSON, key: "rsplit", content: "  \n", wantErr: "artifact is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := newMemFS()
			require.NoError(t, fsys.WriteFile("/a/metrics", []byte(tt.content), 0o644))

			got, err := FileExtractor{Format: tt.format, Key: tt.key}.Extract(fsys, "/a/metrics")
			if tt.wantErr != "" {
				require.Error(t, err)
				var notFound *MetricNotFoundError
				require.ErrorAs(t, err, &notFound)
				assert.Equal(t, tt.key, notFound.Metric)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestFileExtractorMissingArtifact(t *testing.T) {
	_, err := FileExtractor{Key: "rsplit"}.Extract(newMemFS(), "/nowhere.json")
	var notFound *MetricNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "/nowhere.json", notFound.Path)
	assert.Equal(t, "artifact does not exist", notFound.Reason)
}
