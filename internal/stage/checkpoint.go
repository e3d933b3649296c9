package stage

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
)

const checkpointFile = "checkpoint.yaml"

// Checkpoint records which stages of a trial have completed so that a
// restarted process resumes at the next stage
type Checkpoint struct {
	TrialIndex int            `yaml:"trial_index"`
	Params     []models.Param `yaml:"params"`
	Completed  []string       `yaml:"completed"`
	UpdatedAt  time.Time      `yaml:"updated_at"`
}

func newCheckpoint(trial models.Trial) *Checkpoint {
	return &Checkpoint{TrialIndex: trial.Index, Params: trial.Params.Params()}
}

// matches reports whether the checkpoint belongs to the same trial and vector
func (c *Checkpoint) matches(trial models.Trial) bool {
	if c.TrialIndex != trial.Index {
		return false
	}
	return slices.Equal(c.Params, trial.Params.Params())
}

// Done reports whether stage completed
func (c *Checkpoint) Done(stage string) bool {
	return slices.Contains(c.Completed, stage)
}

func (c *Checkpoint) markDone(stage string) {
	if !c.Done(stage) {
		c.Completed = append(c.Completed, stage)
	}
}

func checkpointPath(trialDir string) string {
	return filepath.Join(trialDir, checkpointFile)
}

// LoadCheckpoint reads the checkpoint in trialDir. A missing file yields nil.
func LoadCheckpoint(fsys FileSystem, trialDir string) (*Checkpoint, error) {
	data, err := fsys.ReadFile(checkpointPath(trialDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := yaml.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &cp, nil
}

func saveCheckpoint(fsys FileSystem, trialDir string, cp *Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := writeFileAtomic(fsys, checkpointPath(trialDir), data); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// overrides builds the ordered YAML document handed to the target stage
func overrides(stage string, trial models.Trial) ([]byte, error) {
	params := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range trial.Params.Params() {
		params.Content = append(params.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: p.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: strconv.FormatFloat(p.Value, 'g', -1, 64)},
		)
	}
	doc := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: "stage"},
		{Kind: yaml.ScalarNode, Value: stage},
		{Kind: yaml.ScalarNode, Value: "trial"},
		{Kind: yaml.ScalarNode, Value: strconv.Itoa(trial.Index)},
		{Kind: yaml.ScalarNode, Value: "parameters"},
		params,
	}}
	return yaml.Marshal(doc)
}
