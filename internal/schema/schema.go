package schema

import (
	"fmt"
	"strings"
)

// Schema is an ordered description of the tables of one attached database.
// Table order is the extraction order and is relied on for tie-breaks.
type Schema struct {
	Tables []Table `json:"tables"`
}

type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
	RowCount    int64        `json:"row_count"`
}

type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
	NotNull    bool   `json:"not_null,omitempty"`
}

type ForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

func (s Schema) Len() int {
	return len(s.Tables)
}

func (s Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		names = append(names, table.Name)
	}
	return names
}

func (s Schema) Table(name string) (Table, bool) {
	for _, table := range s.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return Table{}, false
}

func (s Schema) Has(name string) bool {
	_, ok := s.Table(name)
	return ok
}

// TableFold looks a table up case-insensitively.
func (s Schema) TableFold(name string) (Table, bool) {
	for _, table := range s.Tables {
		if strings.EqualFold(table.Name, name) {
			return table, true
		}
	}
	return Table{}, false
}

// Restrict returns the tables of s named in keep, in s order, with columns
// replaced by columns[name] when present.
func (s Schema) Restrict(keep map[string]bool, columns map[string][]Column) Schema {
	out := Schema{Tables: make([]Table, 0, len(keep))}
	for _, table := range s.Tables {
		if !keep[table.Name] {
			continue
		}
		clone := table
		if cols, ok := columns[table.Name]; ok {
			clone.Columns = cols
		} else {
			clone.Columns = append([]Column(nil), table.Columns...)
		}
		clone.ForeignKeys = append([]ForeignKey(nil), table.ForeignKeys...)
		out.Tables = append(out.Tables, clone)
	}
	return out
}

// Widen returns s with the named tables of full added, in full order. Tables
// already in s keep their columns. Unknown names are ignored.
func (s Schema) Widen(full Schema, names ...string) Schema {
	keep := make(map[string]bool, len(s.Tables)+len(names))
	columns := make(map[string][]Column, len(s.Tables))
	for _, table := range s.Tables {
		keep[table.Name] = true
		columns[table.Name] = table.Columns
	}
	added := false
	for _, name := range names {
		if !keep[name] && full.Has(name) {
			keep[name] = true
			added = true
		}
	}
	if !added {
		return s
	}
	return full.Restrict(keep, columns)
}

// AllColumnNames returns every column name across tables, deduplicated in
// first-seen order.
func (s Schema) AllColumnNames() []string {
	seen := map[string]bool{}
	names := make([]string, 0)
	for _, table := range s.Tables {
		for _, column := range table.Columns {
			if seen[column.Name] {
				continue
			}
			seen[column.Name] = true
			names = append(names, column.Name)
		}
	}
	return names
}

func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, column := range t.Columns {
		names = append(names, column.Name)
	}
	return names
}

func (t Table) Column(name string) (Column, bool) {
	for _, column := range t.Columns {
		if column.Name == name {
			return column, true
		}
	}
	return Column{}, false
}

func (t Table) HasColumnFold(name string) bool {
	for _, column := range t.Columns {
		if strings.EqualFold(column.Name, name) {
			return true
		}
	}
	return false
}

func (t Table) PrimaryKeys() []string {
	keys := make([]string, 0, 1)
	for _, column := range t.Columns {
		if column.PrimaryKey {
			keys = append(keys, column.Name)
		}
	}
	return keys
}

// ForeignKeyFor returns the foreign key declared on column, if any.
func (t Table) ForeignKeyFor(column string) (ForeignKey, bool) {
	for _, fk := range t.ForeignKeys {
		if fk.Column == column {
			return fk, true
		}
	}
	return ForeignKey{}, false
}

// Format renders the schema the way the generation and retry prompts expect it:
//
//	Table: Track
//	  Columns: TrackId (INTEGER) [PK], Name (NVARCHAR(200))
//	  Foreign Keys: GenreId → Genre.GenreId
func (s Schema) Format() string {
	var b strings.Builder
	for i, table := range s.Tables {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Table: %s\n", table.Name)
		cols := make([]string, 0, len(table.Columns))
		for _, column := range table.Columns {
			entry := column.Name
			if column.Type != "" {
				entry += " (" + column.Type + ")"
			}
			if column.PrimaryKey {
				entry += " [PK]"
			}
			cols = append(cols, entry)
		}
		fmt.Fprintf(&b, "  Columns: %s\n", strings.Join(cols, ", "))
		if len(table.ForeignKeys) > 0 {
			fks := make([]string, 0, len(table.ForeignKeys))
			for _, fk := range table.ForeignKeys {
				fks = append(fks, fmt.Sprintf("%s → %s.%s", fk.Column, fk.RefTable, fk.RefColumn))
			}
			fmt.Fprintf(&b, "  Foreign Keys: %s\n", strings.Join(fks, ", "))
		}
	}
	return b.String()
}
