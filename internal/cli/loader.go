package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/credexnet/credex/internal/denom"
)

// Definitions are the operator-supplied ledger definitions: additional
// denominations beyond the built-in registry, and the netting/issuance
// policy knobs. They live in CUE files so a malformed definition fails at
// load, not mid-netting.
type Definitions struct {
	Denominations []DenominationDef `json:"denominations"`
	Policy        PolicyDef         `json:"policy"`
}

// DenominationDef mirrors denom.Denomination for CUE decoding.
type DenominationDef struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Precision   int32  `json:"precision"`
	Locale      string `json:"locale"`
	RateSourced bool   `json:"rateSourced"`
}

// PolicyDef carries policy knobs; zero values mean "keep the default".
type PolicyDef struct {
	MinDueDays     int `json:"minDueDays"`
	MaxDueDays     int `json:"maxDueDays"`
	MaxCycleLength int `json:"maxCycleLength"`
}

// LoadDefinitions loads and validates CUE definition files from dir.
// An empty dir returns empty definitions.
func LoadDefinitions(dir string) (*Definitions, error) {
	if dir == "" {
		return &Definitions{}, nil
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("definitions directory not found: %s", dir))
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "error accessing definitions directory", err)
	}
	if !info.IsDir() {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("not a directory: %s", dir))
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "error scanning definitions directory", err)
	}
	if len(cueFiles) == 0 {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("no CUE files found in %s", dir))
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, NewExitError(ExitCommandError, "no CUE instances loaded")
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, WrapExitError(ExitCommandError, "loading CUE definitions", inst.Err)
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, WrapExitError(ExitCommandError, "building CUE definitions", err)
	}
	if err := value.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "validating CUE definitions", err)
	}

	var defs Definitions
	if err := value.Decode(&defs); err != nil {
		return nil, WrapExitError(ExitCommandError, "decoding CUE definitions", err)
	}
	return &defs, nil
}

// Apply registers the definitions' denominations into a registry.
func (d *Definitions) Apply(reg *denom.Registry) error {
	for _, dd := range d.Denominations {
		err := reg.Register(denom.Denomination{
			Code:        dd.Code,
			Description: dd.Description,
			Precision:   dd.Precision,
			Locale:      dd.Locale,
			RateSourced: dd.RateSourced,
		})
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("registering denomination %s", dd.Code), err)
		}
	}
	return nil
}

func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
