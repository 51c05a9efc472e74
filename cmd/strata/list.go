package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jrife/strata/storage/graph"
	"github.com/jrife/strata/storage/schema"
	"github.com/jrife/strata/utils/lane"
	"github.com/spf13/cobra"
)

// parseWhere turns field=value, field!=value, field<value or
// field>value into a predicate. The value is parsed according
// to the field's type.
func parseWhere(entity *schema.Entity, expr string) (graph.Predicate, error) {
	i := strings.IndexAny(expr, "!<>=")

	if i <= 0 {
		return nil, fmt.Errorf("invalid condition %q, expected field=value", expr)
	}

	var build func(string, interface{}) graph.Predicate
	operator := expr[i : i+1]

	switch {
	case strings.HasPrefix(expr[i:], "!="):
		build, operator = graph.Ne, "!="
	case operator == "<":
		build = graph.Lt
	case operator == ">":
		build = graph.Gt
	case operator == "=":
		build = graph.Eq
	default:
		return nil, fmt.Errorf("invalid condition %q, expected field=value", expr)
	}

	name := expr[:i]
	field, err := entity.Field(name)

	if err != nil {
		return nil, err
	}

	value, err := field.Type.Parse(expr[i+len(operator):])

	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return build(name, value), nil
}

func parseConditions(model *schema.Schema, entityName string, conditions []string) (graph.Predicate, error) {
	entity, err := model.Entity(entityName)

	if err != nil {
		return nil, err
	}

	if len(conditions) == 0 {
		return nil, nil
	}

	predicates := make([]graph.Predicate, 0, len(conditions))

	for _, condition := range conditions {
		predicate, err := parseWhere(entity, condition)

		if err != nil {
			return nil, err
		}

		predicates = append(predicates, predicate)
	}

	return graph.And(predicates...), nil
}

func formatValue(value interface{}) string {
	if t, ok := value.(time.Time); ok {
		return t.Format(time.RFC3339Nano)
	}

	return fmt.Sprintf("%v", value)
}

func printRecord(w io.Writer, token lane.Token, record *graph.Record) error {
	values, err := record.Fields(token)

	if err != nil {
		return err
	}

	fields := make([]string, 0, len(values))

	for field := range values {
		fields = append(fields, field)
	}

	sort.Strings(fields)

	var line strings.Builder

	line.WriteString(record.ID())

	for _, field := range fields {
		fmt.Fprintf(&line, "\t%s=%s", field, formatValue(values[field]))
	}

	_, err = fmt.Fprintln(w, line.String())

	return err
}

func (a *app) listCommand() *cobra.Command {
	var conditions []string
	var request graph.FetchRequest
	var sortField string
	var descending bool

	listCmd := &cobra.Command{
		Use:   "list <entity>",
		Short: "Print the records of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			predicate, err := parseConditions(a.manager.Schema(), args[0], conditions)

			if err != nil {
				return err
			}

			request.Predicate = predicate

			if sortField != "" {
				request.Sort = []graph.SortDescriptor{{Field: sortField, Descending: descending}}
			}

			return a.onMain(func(token lane.Token) error {
				records, err := a.manager.FetchWithRequest(token, args[0], request)

				if err != nil {
					return err
				}

				for _, record := range records {
					if err := printRecord(cmd.OutOrStdout(), token, record); err != nil {
						return err
					}
				}

				return nil
			})
		},
	}

	flags := listCmd.Flags()
	flags.StringArrayVar(&conditions, "where", nil, "only list records matching field=value (also !=, < and >), may be repeated")
	flags.StringVar(&sortField, "sort", "", "sort by this field, ties are broken by id")
	flags.BoolVar(&descending, "desc", false, "sort in descending order")
	flags.IntVar(&request.Limit, "limit", 0, "list at most this many records, 0 lists all")
	flags.IntVar(&request.Offset, "offset", 0, "skip this many records")

	return listCmd
}

func (a *app) countCommand() *cobra.Command {
	var conditions []string

	countCmd := &cobra.Command{
		Use:   "count <entity>",
		Short: "Print the number of records of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			predicate, err := parseConditions(a.manager.Schema(), args[0], conditions)

			if err != nil {
				return err
			}

			return a.onMain(func(token lane.Token) error {
				count, err := a.manager.Main().Count(token, args[0], predicate)

				if err != nil {
					return err
				}

				_, err = fmt.Fprintln(cmd.OutOrStdout(), count)

				return err
			})
		},
	}

	countCmd.Flags().StringArrayVar(&conditions, "where", nil, "only count records matching field=value (also !=, < and >), may be repeated")

	return countCmd
}

func (a *app) schemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the loaded schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.manager.Schema().Marshal()

			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(data)

			return err
		},
	}
}
