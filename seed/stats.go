package seed

import (
	"chat-app/domain"
	"chat-app/repositories"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

// Count is one row of a statistics table.
type Count struct {
	Label string
	Count int
}

// ChannelStats counts messages per channel name, ordered by channel id.
func ChannelStats(messages []domain.Message) []Count {
	byChannel := lo.CountValuesBy(messages, func(m domain.Message) domain.ChannelID {
		return m.ChannelID
	})
	ids := lo.Keys(byChannel)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return lo.Map(ids, func(id domain.ChannelID, _ int) Count {
		return Count{Label: domain.ChannelName(id), Count: byChannel[id]}
	})
}

func RoleStats(users []repositories.User) []Count {
	return sortedCounts(lo.CountValuesBy(users, func(u repositories.User) string {
		return u.Role
	}))
}

// SubjectStats counts a user once per subject they teach.
func SubjectStats(users []repositories.User) []Count {
	subjects := lo.FlatMap(users, func(u repositories.User, _ int) []string {
		return lo.Uniq(u.Subjects)
	})
	return sortedCounts(lo.CountValues(subjects))
}

// sortedCounts orders by count descending, then label.
func sortedCounts(counts map[string]int) []Count {
	rows := lo.MapToSlice(counts, func(label string, count int) Count {
		return Count{Label: label, Count: count}
	})
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Label < rows[j].Label
	})
	return rows
}

// Report prints statistics tables with coloured headings.
type Report struct {
	out     io.Writer
	colours bool
}

func NewReport(out io.Writer, colours bool) *Report {
	return &Report{out: out, colours: colours}
}

func (r *Report) Heading(text string) {
	if r.colours {
		text = color.New(color.FgGreen, color.OpBold).Sprint(text)
	}
	_, _ = fmt.Fprintln(r.out, text)
}

func (r *Report) Table(column string, rows []Count) {
	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{column, "Count"})
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	for _, row := range rows {
		table.Append([]string{row.Label, strconv.Itoa(row.Count)})
	}
	table.Render()
}
