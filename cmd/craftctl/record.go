package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/lowcraft/runtime/internal/manifest"
	"github.com/lowcraft/runtime/internal/records"
)

var recordCmd = &cobra.Command{
	Use:     "record",
	GroupID: "content",
	Short:   "Create, read, update, delete, and list entity records",
}

var recordListCmd = &cobra.Command{
	Use:   "list <entity-id>",
	Short: "List records for an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		q, _ := cmd.Flags().GetString("q")
		docs := app.Records.List(flagWorkspaceID, args[0], limit, offset, q, nil)
		for _, d := range docs {
			b, _ := json.Marshal(d)
			fmt.Println(string(b))
		}
		return nil
	},
}

var recordGetCmd = &cobra.Command{
	Use:   "get <entity-id> <record-id>",
	Short: "Print a single record as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := app.Records.Get(flagWorkspaceID, args[0], args[1])
		if err != nil {
			return err
		}
		b, _ := json.MarshalIndent(d, "", "  ")
		fmt.Println(string(b))
		return nil
	},
}

var recordCreateCmd = &cobra.Command{
	Use:   "create <entity-id> <json-file>",
	Short: "Create a record from a JSON file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadJSONDoc(args[1])
		if err != nil {
			return err
		}
		id, created := app.Records.Create(flagWorkspaceID, args[0], doc)
		ok("created %s/%s", args[0], id)
		b, _ := json.MarshalIndent(created, "", "  ")
		fmt.Println(string(b))
		return nil
	},
}

var recordUpdateCmd = &cobra.Command{
	Use:   "update <entity-id> <record-id> <json-file>",
	Short: "Replace a record's fields from a JSON file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadJSONDoc(args[2])
		if err != nil {
			return err
		}
		updated, err := app.Records.Update(flagWorkspaceID, args[0], args[1], doc)
		if err != nil {
			return err
		}
		ok("updated %s/%s", args[0], args[1])
		b, _ := json.MarshalIndent(updated, "", "  ")
		fmt.Println(string(b))
		return nil
	},
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete <entity-id> <record-id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !askConfirm(fmt.Sprintf("Delete %s/%s?", args[0], args[1]), "Delete", "Cancel") {
			warn("delete cancelled")
			return nil
		}
		app.Records.Delete(flagWorkspaceID, args[0], args[1])
		ok("deleted %s/%s", args[0], args[1])
		return nil
	},
}

var recordCountCmd = &cobra.Command{
	Use:   "count <entity-id>",
	Short: "Count records for an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := table.New().Headers("ENTITY", "COUNT")
		t.Row(args[0], fmt.Sprint(app.Records.CountByEntity(flagWorkspaceID, args[0])))
		fmt.Println(t)
		return nil
	},
}

var recordAggregateCmd = &cobra.Command{
	Use:   "aggregate <entity-id> <group-by-field> <measure>",
	Short: "Group records by a field, applying measure 'count' or 'sum:<field>'",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityID, groupBy, measure := args[0], args[1], args[2]
		recs := app.Records.List(flagWorkspaceID, entityID, 0, 0, "", nil)
		agg := records.Aggregate(recs, groupBy, measure)
		t := table.New().Headers(groupBy, measure)
		for _, k := range records.SortedKeys(agg) {
			t.Row(k, fmt.Sprintf("%v", agg[k]))
		}
		fmt.Println(t)
		return nil
	},
}

var recordPivotCmd = &cobra.Command{
	Use:   "pivot <entity-id> <row-group-by> <col-group-by> <measure>",
	Short: "Group records by a row and column field pair, applying measure 'count' or 'sum:<field>'",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityID, rowBy, colBy, measure := args[0], args[1], args[2], args[3]
		recs := app.Records.List(flagWorkspaceID, entityID, 0, 0, "", nil)
		pivot := records.Pivot(recs, rowBy, colBy, measure)
		cols := map[string]bool{}
		for _, row := range pivot {
			for c := range row {
				cols[c] = true
			}
		}
		colList := make([]string, 0, len(cols))
		for c := range cols {
			colList = append(colList, c)
		}
		sort.Strings(colList)

		rows := make([]string, 0, len(pivot))
		for r := range pivot {
			rows = append(rows, r)
		}
		sort.Strings(rows)

		t := table.New().Headers(append([]string{rowBy}, colList...)...)
		for _, r := range rows {
			cells := make([]string, len(colList))
			for i, c := range colList {
				cells[i] = fmt.Sprintf("%v", pivot[r][c])
			}
			t.Row(append([]string{r}, cells...)...)
		}
		fmt.Println(t)
		return nil
	},
}

var recordLookupCmd = &cobra.Command{
	Use:   "lookup <entity-id> <display-field>",
	Short: "Search+page an entity as an id+display-only lookup listing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		q, _ := cmd.Flags().GetString("q")
		rows := app.Records.ListLookup(flagWorkspaceID, args[0], args[1], limit, q)
		t := table.New().Headers("ID", "DISPLAY")
		for _, r := range rows {
			t.Row(r.ID, r.Display)
		}
		fmt.Println(t)
		return nil
	},
}

var recordLinkAttachmentCmd = &cobra.Command{
	Use:   "link-attachment <entity-id> <record-id> <attachment-id>",
	Short: "Bind an already-uploaded attachment to a record",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityID, recordID, attachmentID := args[0], args[1], args[2]
		a, found := app.RenderDB.LinkAttachment(flagWorkspaceID, attachmentID, entityID, recordID)
		if !found {
			return fmt.Errorf("craftctl: attachment %s not found", attachmentID)
		}
		ok("linked attachment %s to %s/%s", a.ID, entityID, recordID)
		return nil
	},
}

func loadJSONDoc(path string) (manifest.Doc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("craftctl: reading %s: %w", path, err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("craftctl: parsing %s: %w", path, err)
	}
	doc, ok := toManifestDoc(generic).(manifest.Doc)
	if !ok {
		return nil, fmt.Errorf("craftctl: %s does not decode to a JSON object", path)
	}
	return doc, nil
}

func init() {
	recordListCmd.Flags().Int("limit", 50, "max records to return")
	recordListCmd.Flags().Int("offset", 0, "pagination offset")
	recordListCmd.Flags().String("q", "", "substring search filter")

	recordLookupCmd.Flags().Int("limit", 20, "max rows to return")
	recordLookupCmd.Flags().String("q", "", "substring search filter")

	recordCmd.AddCommand(recordListCmd, recordGetCmd, recordCreateCmd, recordUpdateCmd, recordDeleteCmd,
		recordCountCmd, recordAggregateCmd, recordPivotCmd, recordLookupCmd, recordLinkAttachmentCmd)
	rootCmd.AddCommand(recordCmd)
}
