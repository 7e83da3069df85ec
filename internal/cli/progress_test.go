package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunProgress_Update(t *testing.T) {
	var buf bytes.Buffer
	p := NewRunProgress(&buf)

	p.Update(15, "Executing contribution models")
	assert.Equal(t, 15, p.Percent())

	p.Update(5, "stale")
	assert.Equal(t, 15, p.Percent(), "lower percentages are ignored")

	p.Update(250, "Analysis complete")
	assert.Equal(t, 100, p.Percent())

	p.Finish()
	assert.Contains(t, buf.String(), "Executing contribution models")
}
