package kbsync

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// DefaultTicketGap is the silence after which a user message opens a new
// ticket instead of continuing the previous one.
const DefaultTicketGap = 15 * time.Minute

// ChatMessage is one row of the raw chat-log CSV.
type ChatMessage struct {
	SentAt time.Time
	RoomID string
	Sender string
	Text   string
}

var chatTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02 15:04",
}

// ParseChatLog reads the raw chat-log CSV. Required columns: sendTime,
// roomId, sender, text. Extra columns (userId among them) are ignored.
func ParseChatLog(r io.Reader) ([]ChatMessage, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: chat log has no header row", ErrInvalidInput)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"sendTime", "roomId", "sender", "text"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: chat log missing column %q", ErrInvalidInput, required)
		}
	}

	var messages []ChatMessage
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("chat log line %d: %w", line, err)
		}
		sentAt, err := parseChatTime(csvField(row, columns["sendTime"]))
		if err != nil {
			return nil, fmt.Errorf("chat log line %d: %w", line, err)
		}
		messages = append(messages, ChatMessage{
			SentAt: sentAt,
			RoomID: csvField(row, columns["roomId"]),
			Sender: csvField(row, columns["sender"]),
			Text:   csvRawField(row, columns["text"]),
		})
	}
	return messages, nil
}

func csvField(row []string, idx int) string {
	return strings.TrimSpace(csvRawField(row, idx))
}

func csvRawField(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func parseChatTime(raw string) (time.Time, error) {
	for _, layout := range chatTimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized sendTime %q", ErrInvalidInput, raw)
}

// FormatChatLog turns raw chat messages into the blank-line-separated
// 質問/回答/やりとり document ParseRecords consumes. Messages are sorted by
// room then time. A user message opens a new ticket when it is the first
// message, its room differs from the previous message, or more than gap has
// passed since the previous message. Consecutive messages from the same
// sender within a ticket merge into one block; the first block becomes the
// question, the second the answer, the rest the dialog. Tickets with fewer
// than two blocks have no answer and are dropped.
func FormatChatLog(messages []ChatMessage, gap time.Duration) string {
	if gap <= 0 {
		gap = DefaultTicketGap
	}
	sorted := append([]ChatMessage(nil), messages...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].RoomID != sorted[j].RoomID {
			return sorted[i].RoomID < sorted[j].RoomID
		}
		return sorted[i].SentAt.Before(sorted[j].SentAt)
	})

	type block struct {
		room   string
		ticket int
		sender string
		texts  []string
	}
	ticketByRoom := map[string]int{}
	var blocks []*block
	for i, msg := range sorted {
		newTicket := msg.Sender == "user" &&
			(i == 0 ||
				sorted[i-1].RoomID != msg.RoomID ||
				msg.SentAt.Sub(sorted[i-1].SentAt) > gap)
		if newTicket {
			ticketByRoom[msg.RoomID]++
		}
		ticket := ticketByRoom[msg.RoomID]
		if len(blocks) > 0 {
			last := blocks[len(blocks)-1]
			if last.room == msg.RoomID && last.ticket == ticket && last.sender == msg.Sender {
				last.texts = append(last.texts, msg.Text)
				continue
			}
		}
		blocks = append(blocks, &block{
			room:   msg.RoomID,
			ticket: ticket,
			sender: msg.Sender,
			texts:  []string{msg.Text},
		})
	}

	var sections []string
	counter := 1
	for start := 0; start < len(blocks); {
		end := start + 1
		for end < len(blocks) && blocks[end].room == blocks[start].room && blocks[end].ticket == blocks[start].ticket {
			end++
		}
		group := blocks[start:end]
		start = end
		if len(group) < 2 {
			continue
		}
		lines := []string{
			fmt.Sprintf("質問%d: %s", counter, strings.Join(group[0].texts, "\n")),
			fmt.Sprintf("回答: %s", strings.Join(group[1].texts, "\n")),
		}
		for i, blk := range group[2:] {
			lines = append(lines, fmt.Sprintf("やりとり%d: %s", i+1, strings.Join(blk.texts, "\n")))
		}
		sections = append(sections, strings.Join(lines, "\n"))
		counter++
	}
	return strings.Join(sections, "\n\n")
}
