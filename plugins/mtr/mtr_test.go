package mtr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const report = `Start: 2024-05-01T12:00:00+0000
HOST: edge                        Loss%   Snt   Last   Avg  Best  Wrst StDev
  1.|-- 192.168.1.1                0.0%     5    0.5   0.6   0.4   0.9   0.2
  2.|-- ???                       100.0     5    0.0   0.0   0.0   0.0   0.0
  3.|-- 1.1.1.1                    0.0%     5   11.9  12.3  11.7  13.0   0.5
`

func TestParseReport(t *testing.T) {
	hops, err := parseReport(report)
	require.NoError(t, err)
	require.Len(t, hops, 3)
	assert.Equal(t, hop{host: "192.168.1.1", loss: 0, avgMs: 0.6}, hops[0])
	assert.Equal(t, 100.0, hops[1].loss)
	assert.Equal(t, hop{host: "1.1.1.1", loss: 0, avgMs: 12.3}, hops[2])
}

func TestParseReportEmpty(t *testing.T) {
	_, err := parseReport("Start: 2024-05-01T12:00:00+0000\n")
	assert.Error(t, err)
}

func TestParseReportBadNumber(t *testing.T) {
	_, err := parseReport("  1.|-- 10.0.0.1   0.0%   5   1.0   abc   1.0   1.0   0.0\n")
	assert.Error(t, err)
}

func TestFamilyFlag(t *testing.T) {
	assert.Equal(t, "-4", familyFlag("8.8.8.8"))
	assert.Equal(t, "-6", familyFlag("2001:4860:4860::8888"))
	assert.Equal(t, "", familyFlag("example.org"))
}
