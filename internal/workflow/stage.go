package workflow

// Stage is one phase of the top-level state machine. Progression is
// forward-only, with one exception: a failed global verification may
// loop back to Executing once for targeted repair.
type Stage int

const (
	StageLoadContext Stage = iota
	StageCompress
	StageAnalysis
	StagePlanning
	StageExecuting
	StageVerifying
	StageCompleting
	StageReporting
)

const stageCount = 8

var stageNames = [stageCount]string{
	"load_context",
	"compress",
	"analysis",
	"planning",
	"executing",
	"verifying",
	"completing",
	"reporting",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= stageCount {
		return "unknown"
	}
	return stageNames[s]
}

// Index is 1-based for progress rendering.
func (s Stage) Index() int { return int(s) + 1 }

func (s Stage) Total() int { return stageCount }
