package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	dispatcherrors "github.com/felixgeelhaar/dispatch/internal/errors"
	"github.com/felixgeelhaar/dispatch/internal/planner"
)

// LoadPlan reads and validates a plan file. The returned plan has its
// mode, fanout and ids filled in.
func LoadPlan(path string) (*planner.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dispatcherrors.NewFileNotFoundError(path)
		}
		return nil, dispatcherrors.Wrap(dispatcherrors.ErrCodeFileReadFailed, dispatcherrors.KindPermanent,
			fmt.Sprintf("cannot read plan file %s", path), err)
	}

	var plan planner.Plan
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &plan); err != nil {
		return nil, dispatcherrors.Wrap(dispatcherrors.ErrCodePlanInvalid, dispatcherrors.KindPermanent,
			fmt.Sprintf("cannot parse plan file %s", path), err)
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}
