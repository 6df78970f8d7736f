package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestKeyString(t *testing.T) {
	assert.Equal(t, "db/alpha", NewKey("db", "alpha").String())
	assert.Equal(t, "node-1", NewKey("", "node-1").String())
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in      string
		want    Key
		wantErr bool
	}{
		{in: "db/alpha", want: NewKey("db", "alpha")},
		{in: "alpha", want: NewKey("", "alpha")},
		{in: "", wantErr: true},
		{in: "db/", wantErr: true},
		{in: "a/b/c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKey(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestKeyOf(t *testing.T) {
	meta := &metav1.ObjectMeta{Namespace: "db", Name: "alpha"}
	assert.Equal(t, NewKey("db", "alpha"), KeyOf(meta))
	assert.Equal(t, "db/alpha", KeyOf(meta).NamespacedName().String())
}

func TestIsNewer(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		current   string
		want      bool
	}{
		{"numeric greater", "10", "9", true},
		{"numeric equal", "10", "10", false},
		{"numeric smaller", "8", "9", false},
		{"empty current", "1", "", true},
		{"empty candidate", "", "5", true},
		{"opaque equal", "abc", "abc", false},
		{"opaque different", "abd", "abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNewer(tt.candidate, tt.current))
		})
	}
}
