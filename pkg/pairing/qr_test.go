package pairing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderQRSVG(t *testing.T) {
	sess := &Session{Code: "abc123", BaseURL: "http://hub:8127"}

	svg, err := RenderQRSVG(sess, 4)
	require.NoError(t, err)

	out := string(svg)
	assert.True(t, strings.HasPrefix(out, "<svg"))
	assert.True(t, strings.HasSuffix(out, "</svg>"))
	assert.Contains(t, out, `fill="#000000"`)
}

func TestRenderQRSVG_DefaultModuleSize(t *testing.T) {
	sess := &Session{Code: "abc123", BaseURL: "http://hub:8127"}

	svg, err := RenderQRSVG(sess, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, svg)
}
