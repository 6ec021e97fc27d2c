package catalog

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/pilotforge/internal/ir"
)

// tierSchema constrains tier catalog files. It is unified with the user's
// file before decoding so that type errors carry CUE positions.
const tierSchema = `
#Tier: {
	cost_per_second: number & >0
	pass_threshold:  number & >=0 & <=100
	asset_type:      "audio" | "image" | "figure" | "video"
	provider?:       string
	description?:    string
}

tiers: [string]: #Tier
`

type tierFile struct {
	CostPerSecond float64 `json:"cost_per_second"`
	PassThreshold float64 `json:"pass_threshold"`
	AssetType     string  `json:"asset_type"`
	Provider      string  `json:"provider"`
	Description   string  `json:"description"`
}

// LoadCUE reads a tier catalog from a CUE file of the form:
//
//	tiers: {
//		motion_graphics: {
//			cost_per_second: 0.15
//			pass_threshold:  75
//			asset_type:      "video"
//		}
//	}
func LoadCUE(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier catalog: %w", err)
	}
	return ParseCUE(path, data)
}

// ParseCUE compiles CUE source into a catalog. filename is used for error
// positions only.
func ParseCUE(filename string, src []byte) (*Catalog, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(tierSchema)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile tier schema: %w", err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	tiersVal := unified.LookupPath(cue.ParsePath("tiers"))
	if !tiersVal.Exists() {
		return nil, fmt.Errorf("%s: no tiers defined", filename)
	}

	iter, err := tiersVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var tiers []Tier
	for iter.Next() {
		var tf tierFile
		if err := iter.Value().Decode(&tf); err != nil {
			return nil, formatCUEError(err)
		}
		tiers = append(tiers, Tier{
			ID:            iter.Selector().Unquoted(),
			CostPerSecond: tf.CostPerSecond,
			PassThreshold: tf.PassThreshold,
			AssetType:     ir.AssetType(tf.AssetType),
			Provider:      tf.Provider,
			Description:   tf.Description,
		})
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%s: no tiers defined", filename)
	}
	return New(tiers)
}

// formatCUEError flattens CUE errors into one message with positions.
func formatCUEError(err error) error {
	return fmt.Errorf("tier catalog: %s", errors.Details(err, nil))
}
