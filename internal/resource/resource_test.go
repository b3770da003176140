package resource

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certrig/certrig/internal/job"
)

func TestParseFacts_MultipleRecords(t *testing.T) {
	out := `driver: e1000e
interface: eth0

driver: iwlwifi
interface: wlan0
`
	facts, err := ParseFacts(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, facts, 2)

	assert.Equal(t, "e1000e", facts[0]["driver"])
	assert.Equal(t, "wlan0", facts[1]["interface"])
}

func TestParseFacts_IgnoresDiagnosticLines(t *testing.T) {
	out := "scanning bus 01\nvendor: 8086\n"
	facts, err := ParseFacts(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, Fact{"vendor": "8086"}, facts[0])
}

func TestParseFacts_Empty(t *testing.T) {
	facts, err := ParseFacts(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestParseRequirements(t *testing.T) {
	reqs, err := ParseRequirements(`cpuinfo.platform == "x86_64" and
device.category != "HIDRAW"`)
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	assert.Equal(t, Requirement{Resource: "cpuinfo", Key: "platform", Op: "==", Value: "x86_64"}, reqs[0])
	assert.Equal(t, Requirement{Resource: "device", Key: "category", Op: "!=", Value: "HIDRAW"}, reqs[1])
}

func TestParseRequirements_InList(t *testing.T) {
	reqs, err := ParseRequirements(`sound.driver in ["snd_hda_intel", "snd_sof_pci"]`)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "in", reqs[0].Op)
	assert.Equal(t, "sound", reqs[0].Resource)
	assert.Equal(t, "driver", reqs[0].Key)
}

func TestParseRequirements_Malformed(t *testing.T) {
	tests := []string{
		"cpuinfo.platform",             // no operator
		`platform == "x86_64"`,         // no resource prefix
		`cpuinfo.platform == x86_64`,   // unquoted value
		`cpuinfo.platform in "x86_64"`, // in without list
	}
	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseRequirements(expr)
			require.Error(t, err)
			var cfgErr *job.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestRequirement_Satisfied(t *testing.T) {
	facts := map[string][]Fact{
		"cpuinfo": {{"platform": "x86_64"}},
		"device":  {{"category": "WIRELESS"}, {"category": "VIDEO"}},
	}

	eq := Requirement{Resource: "cpuinfo", Key: "platform", Op: OpEq, Value: "x86_64"}
	assert.True(t, eq.Satisfied(facts))

	eqMiss := Requirement{Resource: "cpuinfo", Key: "platform", Op: OpEq, Value: "arm64"}
	assert.False(t, eqMiss.Satisfied(facts))

	anyRecord := Requirement{Resource: "device", Key: "category", Op: OpEq, Value: "VIDEO"}
	assert.True(t, anyRecord.Satisfied(facts), "any record may satisfy the comparison")

	noFacts := Requirement{Resource: "missing", Key: "k", Op: OpNeq, Value: "v"}
	assert.False(t, noFacts.Satisfied(facts), "absent resource fails every comparison")

	in := Requirement{Resource: "device", Key: "category", Op: OpIn, Value: `["WIRELESS", "BLUETOOTH"]`}
	assert.True(t, in.Satisfied(facts))
}
