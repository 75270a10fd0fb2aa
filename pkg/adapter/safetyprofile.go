package adapter

import "github.com/codeofaxel/kiln/pkg/types"

// knownProfiles holds the physical-limit table for printer models the
// registry has built-in knowledge of. Profiles are looked up by a
// case-sensitive model identifier supplied at registration time (e.g.
// "ender3", "mk4", "voron2.4").
var knownProfiles = map[string]types.SafetyProfile{
	"ender3": {
		Model:          "ender3",
		HotendCeiling:  260,
		BedCeiling:     100,
		MaxFeedrate:    4800,
		BuildVolumeXYZ: [3]float64{220, 220, 250},
	},
	"mk3s": {
		Model:          "mk3s",
		HotendCeiling:  300,
		BedCeiling:     120,
		MaxFeedrate:    7200,
		BuildVolumeXYZ: [3]float64{250, 210, 210},
	},
	"mk4": {
		Model:          "mk4",
		HotendCeiling:  300,
		BedCeiling:     120,
		MaxFeedrate:    12000,
		BuildVolumeXYZ: [3]float64{250, 210, 220},
	},
	"voron2.4": {
		Model:          "voron2.4",
		HotendCeiling:  300,
		BedCeiling:     130,
		MaxFeedrate:    30000,
		BuildVolumeXYZ: [3]float64{350, 350, 350},
	},
	"bambu-x1c": {
		Model:          "bambu-x1c",
		HotendCeiling:  300,
		BedCeiling:     120,
		MaxFeedrate:    36000,
		BuildVolumeXYZ: [3]float64{256, 256, 256},
	},
}

// ProfileForModel resolves a model identifier to its SafetyProfile, falling
// back to types.DefaultSafetyProfile when the model is unrecognized.
func ProfileForModel(model string) types.SafetyProfile {
	if p, ok := knownProfiles[model]; ok {
		return p
	}
	return types.DefaultSafetyProfile()
}
