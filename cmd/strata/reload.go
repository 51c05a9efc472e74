package main

import (
	"fmt"
	"io/ioutil"

	"github.com/jrife/strata/storage/graph"
	"github.com/jrife/strata/storage/schema"
	"github.com/jrife/strata/utils/lane"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// seed maps entity names to the records that should replace
// the entity's current contents
type seed map[string][]map[string]interface{}

func loadSeed(path string) (seed, error) {
	data, err := ioutil.ReadFile(path)

	if err != nil {
		return nil, err
	}

	var s seed

	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return nil, fmt.Errorf("could not parse seed file %s: %w", path, err)
	}

	return s, nil
}

// entities lists the seeded entities in schema order
func (s seed) entities(model *schema.Schema) ([]string, error) {
	for name := range s {
		if _, err := model.Entity(name); err != nil {
			return nil, err
		}
	}

	var names []string

	for _, name := range model.EntityNames() {
		if _, ok := s[name]; ok {
			names = append(names, name)
		}
	}

	return names, nil
}

func (a *app) reloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reload <seed.yaml>",
		Short: "Replace the records of every entity named in a seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSeed(args[0])

			if err != nil {
				return err
			}

			entities, err := s.entities(a.manager.Schema())

			if err != nil {
				return err
			}

			if err := a.reload(s, entities); err != nil {
				return err
			}

			return a.onMain(func(token lane.Token) error {
				for _, entity := range entities {
					count, err := a.manager.Main().Count(token, entity, nil)

					if err != nil {
						return err
					}

					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", entity, count)
				}

				return nil
			})
		},
	}
}

// reload purges and repopulates entities in one chain and
// waits for the chain to reach the store
func (a *app) reload(s seed, entities []string) error {
	done := make(chan error, 1)

	err := a.manager.MutateAndPropagate(
		func(token lane.Token, child *graph.Context) error {
			for _, entity := range entities {
				if err := a.manager.DeleteAll(token, entity); err != nil {
					return err
				}

				for i, values := range s[entity] {
					record := a.manager.Insert(token, entity)

					for field, value := range values {
						if err := record.Set(token, field, value); err != nil {
							return fmt.Errorf("%s record %d: %w", entity, i, err)
						}
					}
				}
			}

			return nil
		},
		func(token lane.Token) {
			done <- nil
		},
		func(token lane.Token, err error) {
			done <- err
		},
	)

	if err != nil {
		return err
	}

	if err := <-done; err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}

	a.logger.Info("reloaded", zap.Strings("entities", entities))

	return nil
}
