package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRewriteURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		id   string
		want string
	}{
		{
			name: "placeholder followed by ampersand",
			url:  "https://api.example/search?q=cats&cb=JSONP_CALLBACK&fmt=json",
			id:   "ng_jsonp_callback_17",
			want: "https://api.example/search?q=cats&cb=ng_jsonp_callback_17&fmt=json",
		},
		{
			name: "placeholder in the middle of the query",
			url:  "https://host/x?cb=JSONP_CALLBACK&y=1",
			id:   "c7",
			want: "https://host/x?cb=c7&y=1",
		},
		{
			name: "placeholder at end of string",
			url:  "https://host/x?y=1&callback=JSONP_CALLBACK",
			id:   "c7",
			want: "https://host/x?y=1&callback=c7",
		},
		{
			name: "only the first placeholder is replaced",
			url:  "https://host/x?a=JSONP_CALLBACK&b=JSONP_CALLBACK",
			id:   "c1",
			want: "https://host/x?a=c1&b=JSONP_CALLBACK",
		},
		{
			name: "marker followed by other characters is not a placeholder",
			url:  "https://host/x?cb=JSONP_CALLBACKS&y=1",
			id:   "c1",
			want: "https://host/x?cb=JSONP_CALLBACKS&y=1",
		},
		{
			name: "missing placeholder leaves url untouched",
			url:  "https://host/x?y=1",
			id:   "c1",
			want: "https://host/x?y=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteURL(tt.url, tt.id))
		})
	}
}

func TestHasPlaceholder(t *testing.T) {
	assert.True(t, HasPlaceholder("https://host/x?cb=JSONP_CALLBACK"))
	assert.True(t, HasPlaceholder("https://host/x?cb=JSONP_CALLBACK&y=1"))
	assert.False(t, HasPlaceholder("https://host/x?cb=JSONP_CALLBACKS"))
	assert.False(t, HasPlaceholder("https://host/x"))
}

func TestCarriesCallback(t *testing.T) {
	tests := []struct {
		name string
		url  string
		id   string
		want bool
	}{
		{"end of url", "https://host/x?cb=ng_jsonp_callback_1", "ng_jsonp_callback_1", true},
		{"followed by param", "https://host/x?cb=ng_jsonp_callback_1&y=2", "ng_jsonp_callback_1", true},
		{"prefix of longer id", "https://host/x?cb=ng_jsonp_callback_10", "ng_jsonp_callback_1", false},
		{"prefix then exact", "https://host/x?a=ng_jsonp_callback_21&cb=ng_jsonp_callback_2", "ng_jsonp_callback_2", true},
		{"in path only", "https://host/ng_jsonp_callback_1?cb=x", "ng_jsonp_callback_1", false},
		{"empty id", "https://host/x?cb=", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CarriesCallback(tt.url, tt.id))
		})
	}
}
