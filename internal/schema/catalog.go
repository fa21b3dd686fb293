package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Catalog is the immutable-per-load table/column/foreign-key metadata the
// whole pipeline works against.
//
// Notes:
// - A Catalog value is never mutated after construction. Reload is an atomic
//   swap of a fresh snapshot (see Holder), so in-flight sessions keep reading
//   a consistent view.
// - Lookups are case-insensitive; the original spelling from the source
//   document/database is preserved for rendering.
type Catalog struct {
	Engine      string  `json:"engine,omitempty"`
	GeneratedAt string  `json:"generated_at,omitempty"`
	Tables      []Table `json:"tables"`

	byName map[string]*Table
}

type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

type ForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
	Nullable  bool   `json:"nullable"`
}

func (c *Catalog) init() error {
	if c == nil {
		return errors.New("nil catalog")
	}
	c.byName = make(map[string]*Table, len(c.Tables))
	for i := range c.Tables {
		t := &c.Tables[i]
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name == "" {
			return fmt.Errorf("table %d: empty name", i)
		}
		if _, ok := c.byName[name]; ok {
			return fmt.Errorf("duplicate table %q", t.Name)
		}
		if len(t.Columns) == 0 {
			return fmt.Errorf("table %q: no columns", t.Name)
		}
		c.byName[name] = t
	}
	for _, t := range c.Tables {
		for _, fk := range t.ForeignKeys {
			if _, ok := c.byName[strings.ToLower(strings.TrimSpace(fk.RefTable))]; !ok {
				return fmt.Errorf("table %q: foreign key %s references unknown table %q", t.Name, fk.Column, fk.RefTable)
			}
		}
	}
	return nil
}

// Parse builds a Catalog from the structured JSON schema document.
func Parse(b []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	if err := c.init(); err != nil {
		return nil, fmt.Errorf("invalid schema document: %w", err)
	}
	return &c, nil
}

func LoadFile(path string) (*Catalog, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// New builds a validated Catalog from already-assembled tables (used by the
// introspection path).
func New(engine string, tables []Table) (*Catalog, error) {
	c := &Catalog{
		Engine:      strings.TrimSpace(engine),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Tables:      tables,
	}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

// Table resolves a table by name, case-insensitively. Returns nil when absent.
func (c *Catalog) Table(name string) *Table {
	if c == nil || c.byName == nil {
		return nil
	}
	return c.byName[strings.ToLower(strings.TrimSpace(name))]
}

func (c *Catalog) HasTable(name string) bool {
	return c.Table(name) != nil
}

// ResolveColumn reports whether table.column exists, case-insensitively.
// An empty table name means "any table".
func (c *Catalog) ResolveColumn(table, column string) bool {
	column = strings.ToLower(strings.TrimSpace(column))
	if column == "" {
		return false
	}
	if strings.TrimSpace(table) != "" {
		t := c.Table(table)
		if t == nil {
			return false
		}
		return t.hasColumn(column)
	}
	if c == nil {
		return false
	}
	for i := range c.Tables {
		if c.Tables[i].hasColumn(column) {
			return true
		}
	}
	return false
}

func (t *Table) hasColumn(lower string) bool {
	if t == nil {
		return false
	}
	for _, col := range t.Columns {
		if strings.ToLower(col.Name) == lower {
			return true
		}
	}
	return false
}

func (t *Table) PrimaryKey() string {
	if t == nil {
		return ""
	}
	for _, col := range t.Columns {
		if col.PrimaryKey {
			return col.Name
		}
	}
	return ""
}

// TableNames returns the canonical table names sorted lexicographically.
func (c *Catalog) TableNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Tables))
	for _, t := range c.Tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// Export renders the catalog in the same JSON shape LoadFile accepts.
func (c *Catalog) Export() ([]byte, error) {
	if c == nil {
		return nil, errors.New("nil catalog")
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// --- prompt rendering ---

// FormatForPrompt renders the schema block included in generation prompts.
// When tables is empty the full catalog is rendered.
func (c *Catalog) FormatForPrompt(tables []string) string {
	if c == nil {
		return ""
	}
	want := map[string]bool{}
	for _, name := range tables {
		want[strings.ToLower(strings.TrimSpace(name))] = true
	}

	var b strings.Builder
	b.WriteString("Available tables: ")
	b.WriteString(strings.Join(c.TableNames(), ", "))
	b.WriteString("\n")
	for _, name := range c.TableNames() {
		if len(want) > 0 && !want[strings.ToLower(name)] {
			continue
		}
		t := c.Table(name)
		fmt.Fprintf(&b, "\nTable %s:\n", t.Name)
		for _, col := range t.Columns {
			marks := ""
			if col.PrimaryKey {
				marks += " [PK]"
			}
			if !col.Nullable {
				marks += " [NOT NULL]"
			}
			fmt.Fprintf(&b, "  - %s (%s)%s\n", col.Name, col.Type, marks)
		}
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(&b, "  FK: %s.%s -> %s.%s\n", t.Name, fk.Column, fk.RefTable, fk.RefColumn)
		}
	}
	return b.String()
}

// --- relevant-table matching ---

// RelevantTables matches a natural-language question against table names,
// column names and bilingual aliases. The result is sorted for determinism.
func (c *Catalog) RelevantTables(question string) []string {
	if c == nil || strings.TrimSpace(question) == "" {
		return nil
	}
	lower := strings.ToLower(question)
	hits := map[string]bool{}

	// Column names shared by several tables (Name, Id, ...) do not identify
	// a table; only unique column names count as evidence.
	colCount := map[string]int{}
	for _, t := range c.Tables {
		for _, col := range t.Columns {
			colCount[strings.ToLower(col.Name)]++
		}
	}

	for _, t := range c.Tables {
		if tableMatches(lower, t.Name) {
			hits[t.Name] = true
			continue
		}
		for _, col := range t.Columns {
			if colCount[strings.ToLower(col.Name)] == 1 && columnMatches(lower, col.Name) {
				hits[t.Name] = true
				break
			}
		}
	}

	names := make([]string, 0, len(hits))
	for name := range hits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func tableMatches(questionLower, table string) bool {
	for _, alias := range tableAliases(table) {
		if alias != "" && strings.Contains(questionLower, alias) {
			return true
		}
	}
	return false
}

func columnMatches(questionLower, column string) bool {
	name := strings.ToLower(column)
	if len(name) < 3 {
		// Short names (id, no) match everything and produce noise.
		return false
	}
	if strings.Contains(questionLower, name) {
		return true
	}
	snake := camelToSnake(column)
	return snake != name && strings.Contains(questionLower, snake)
}

// tableAliases expands a table name into its lookup variants: lower case,
// snake_case, singular/plural, and the Chinese terms the original data set
// is queried with.
func tableAliases(table string) []string {
	lower := strings.ToLower(table)
	aliases := []string{lower, camelToSnake(table)}
	if strings.HasSuffix(lower, "s") {
		aliases = append(aliases, strings.TrimSuffix(lower, "s"))
	} else {
		aliases = append(aliases, lower+"s")
	}
	for key, zh := range chineseTableAliases {
		if strings.Contains(lower, key) {
			aliases = append(aliases, zh...)
		}
	}
	return aliases
}

var chineseTableAliases = map[string][]string{
	"customer":  {"客户", "顾客", "用户"},
	"employee":  {"员工", "雇员"},
	"artist":    {"艺术家", "歌手"},
	"album":     {"专辑", "唱片"},
	"track":     {"曲目", "歌曲"},
	"genre":     {"流派", "风格"},
	"playlist":  {"播放列表", "歌单"},
	"invoice":   {"发票", "订单", "账单", "销售"},
	"order":     {"订单"},
	"product":   {"产品", "商品"},
	"mediatype": {"媒体类型"},
}

func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// --- snapshot holder ---

// Holder publishes the current Catalog snapshot to concurrent sessions.
// Readers call Current and keep using the returned pointer for the whole
// session step; Reload swaps in a fresh immutable snapshot.
type Holder struct {
	current atomic.Pointer[Catalog]
}

func NewHolder(c *Catalog) *Holder {
	h := &Holder{}
	if c != nil {
		h.current.Store(c)
	}
	return h
}

func (h *Holder) Current() *Catalog {
	if h == nil {
		return nil
	}
	return h.current.Load()
}

func (h *Holder) Reload(c *Catalog) error {
	if h == nil {
		return errors.New("nil holder")
	}
	if c == nil {
		return errors.New("nil catalog")
	}
	h.current.Store(c)
	return nil
}
