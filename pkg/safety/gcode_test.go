package safety

import (
	"strings"
	"testing"

	"github.com/codeofaxel/kiln/pkg/types"
	"github.com/stretchr/testify/require"
)

func testProfile() types.SafetyProfile {
	return types.SafetyProfile{Model: "test", HotendCeiling: 300, BedCeiling: 130, MaxFeedrate: 6000}
}

func TestValidateGCodeOverCeilingBlocked(t *testing.T) {
	res, err := ValidateGCode([]string{"M140 S60", "M104 S320"}, testProfile())
	require.NoError(t, err)
	require.True(t, res.Blocked)
	require.Contains(t, res.BlockedCommands, "M104 S320")
	require.NotContains(t, res.BlockedCommands, "M140 S60")
}

func TestValidateGCodeAtCeilingPasses(t *testing.T) {
	res, err := ValidateGCode([]string{"M104 S300"}, testProfile())
	require.NoError(t, err)
	require.False(t, res.Blocked)
}

func TestValidateGCodeBlockedEEPROMCommand(t *testing.T) {
	res, err := ValidateGCode([]string{"M502"}, testProfile())
	require.NoError(t, err)
	require.True(t, res.Blocked)
	require.Contains(t, res.BlockedCommands, "M502")
}

func TestValidateGCodeBatchSizeCap(t *testing.T) {
	lines := make([]string, 100)
	for i := range lines {
		lines[i] = "G28"
	}
	_, err := ValidateGCode(lines, testProfile())
	require.NoError(t, err)

	lines = append(lines, "G28")
	_, err = ValidateGCode(lines, testProfile())
	require.Error(t, err)
	var gerr *GateError
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, CodeValidationError, gerr.Code)
}

func TestValidateGCodeAdvisoryWarnings(t *testing.T) {
	res, err := ValidateGCode([]string{"G1 Z-1 F50000"}, testProfile())
	require.NoError(t, err)
	require.False(t, res.Blocked)
	require.Len(t, res.Warnings, 2)
}

func TestValidateGCodeIgnoresCommentsAndBlanks(t *testing.T) {
	res, err := ValidateGCode([]string{"", "; a comment", "G28"}, testProfile())
	require.NoError(t, err)
	require.False(t, res.Blocked)
	require.Empty(t, res.Warnings)
}

func TestValidateGCodeCaseInsensitiveParam(t *testing.T) {
	res, err := ValidateGCode([]string{strings.ToLower("M104 S320")}, testProfile())
	require.NoError(t, err)
	require.True(t, res.Blocked)
}
