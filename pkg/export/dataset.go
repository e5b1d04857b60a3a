package export

// Dataset defines tabular export content.
type Dataset struct {
	Title   string
	Headers []string
	Rows    []map[string]string
	Summary []SummaryLine
}

// SummaryLine is a labelled aggregate printed alongside the table.
type SummaryLine struct {
	Label string
	Value string
}

// Record returns the row cells ordered by header.
func (d Dataset) Record(row map[string]string) []string {
	record := make([]string, len(d.Headers))
	for i, header := range d.Headers {
		record[i] = row[header]
	}
	return record
}
