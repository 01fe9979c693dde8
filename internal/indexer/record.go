package indexer

import (
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/thebushidocollective/han/internal/storage"
)

// intermediateLine is pass 1's output: the raw JSON kept verbatim, plus the
// handful of fields pass 2 needs to resolve a timestamp, per spec.md §4.4's
// two-pass parse.
type intermediateLine struct {
	LineNumber      uint32
	JSON            gjson.Result
	Raw             string
	MessageType     storage.MessageType
	ID              string
	DirectTimestamp string
	LeafUUID        string
}

// classifyMessageType maps a record's "type" field to one of the ten
// message_type kinds from spec.md §3. isEventsFile forces han_event
// classification for records in a sibling "-han.jsonl" file, since those
// sidecar files don't carry their own "type" discriminator for this kind.
func classifyMessageType(raw gjson.Result, isEventsFile bool) storage.MessageType {
	if isEventsFile {
		return storage.MessageEvent
	}
	switch raw.Get("type").String() {
	case "summary":
		return storage.MessageSummary
	case "user":
		return storage.MessageUser
	case "assistant":
		return storage.MessageAssistant
	case "tool_use":
		return storage.MessageToolUse
	case "tool_result":
		return storage.MessageToolResult
	case "progress":
		return storage.MessageProgress
	case "system":
		return storage.MessageSystem
	case "file-history-snapshot":
		return storage.MessageFileHistorySnapshot
	default:
		return storage.MessageUnknown
	}
}

// parsePass1 parses raw JSON into an intermediateLine per line, skipping
// (but still counting) lines that fail to parse as JSON. The per-session
// error counter tracks skips for the caller to report.
func parsePass1(lines []jsonlLine, isEventsFile bool) ([]intermediateLine, int) {
	out := make([]intermediateLine, 0, len(lines))
	errCount := 0

	for _, l := range lines {
		parsed := gjson.Parse(l.Content)
		if !parsed.Exists() || !parsed.IsObject() {
			errCount++
			continue
		}

		id := parsed.Get("uuid").String()
		if id == "" {
			id = parsed.Get("id").String()
		}
		if id == "" {
			id = uuid.NewString()
		}

		out = append(out, intermediateLine{
			LineNumber:      l.LineNumber,
			JSON:            parsed,
			Raw:             l.Content,
			MessageType:     classifyMessageType(parsed, isEventsFile),
			ID:              id,
			DirectTimestamp: parsed.Get("timestamp").String(),
			LeafUUID:        parsed.Get("leafUuid").String(),
		})
	}

	return out, errCount
}

// jsonlLine mirrors jsonl.Line's shape without importing that package
// directly into this file's signature, keeping record.go focused on JSON
// shape rather than file I/O.
type jsonlLine struct {
	LineNumber uint32
	Content    string
}

// resolvePass2 resolves each intermediate line's timestamp: a summary line
// borrows the timestamp of the peer record whose id equals its leafUuid; if
// unresolved, the summary is dropped entirely rather than fabricating a
// value, per spec.md §4.4 and property P4. Every other message type
// requires (and already has, from pass 1) a direct timestamp.
func resolvePass2(lines []intermediateLine) []resolvedLine {
	tsByID := make(map[string]string, len(lines))
	for _, l := range lines {
		if l.DirectTimestamp != "" {
			tsByID[l.ID] = l.DirectTimestamp
		}
	}

	out := make([]resolvedLine, 0, len(lines))
	for _, l := range lines {
		ts := l.DirectTimestamp
		if l.MessageType == storage.MessageSummary {
			peer, ok := tsByID[l.LeafUUID]
			if !ok {
				continue // unresolved summary: skipped, never fabricated
			}
			ts = peer
		}
		if ts == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, ts)
			if err != nil {
				continue
			}
		}
		out = append(out, resolvedLine{intermediateLine: l, Timestamp: parsed})
	}
	return out
}

type resolvedLine struct {
	intermediateLine
	Timestamp time.Time
}

// toMessage builds the persisted Message row for a resolved line. agentID
// is stamped from the source file name for agent-*.jsonl files, per
// spec.md §4.4.
func toMessage(l resolvedLine, sessionID string, sourceFile string, sourceFileType storage.SourceFileType, agentID *string, now time.Time) storage.Message {
	j := l.JSON
	msg := storage.Message{
		ID:             l.ID,
		SessionID:      sessionID,
		AgentID:        agentID,
		MessageType:    l.MessageType,
		RawJSON:        l.Raw,
		Timestamp:      l.Timestamp,
		LineNumber:     l.LineNumber,
		SourceFileName: sourceFile,
		SourceFileType: sourceFileType,
		IndexedAt:      now,
	}

	if parent := j.Get("parentUuid").String(); parent != "" {
		msg.ParentID = &parent
	}

	switch l.MessageType {
	case storage.MessageUser, storage.MessageAssistant, storage.MessageSystem:
		msg.Role = j.Get("message.role").String()
		if msg.Role == "" {
			msg.Role = j.Get("role").String()
		}
		msg.Content = contentText(j.Get("message.content"))
		if msg.Content == "" {
			msg.Content = contentText(j.Get("content"))
		}
		msg.TokenCount = int(j.Get("message.usage.input_tokens").Int() + j.Get("message.usage.output_tokens").Int())
	case storage.MessageToolUse:
		msg.ToolName = j.Get("message.content.0.name").String()
		if msg.ToolName == "" {
			msg.ToolName = j.Get("toolName").String()
		}
		msg.ToolInput = j.Get("message.content.0.input").Raw
		if msg.ToolInput == "" {
			msg.ToolInput = j.Get("toolInput").Raw
		}
	case storage.MessageToolResult:
		msg.ToolName = j.Get("toolName").String()
		msg.ToolResult = j.Get("toolUseResult").Raw
		if msg.ToolResult == "" {
			msg.ToolResult = j.Get("message.content.0.content").Raw
		}
	case storage.MessageSummary:
		msg.Content = j.Get("summary").String()
	}

	if n := j.Get("linesAdded"); n.Exists() {
		msg.LinesAdded = int(n.Int())
	}
	if n := j.Get("linesRemoved"); n.Exists() {
		msg.LinesRemoved = int(n.Int())
	}
	if n := j.Get("filesChanged"); n.Exists() {
		msg.FilesChanged = int(n.Int())
	}
	if s := j.Get("sentiment"); s.Exists() {
		v := s.String()
		msg.Sentiment = &v
	}
	if f := j.Get("frustration"); f.Exists() {
		v := f.Float()
		msg.Frustration = &v
	}

	return msg
}

// contentText flattens Claude Code's content-block array (or a plain
// string) into a single searchable text blob.
func contentText(v gjson.Result) string {
	if v.Type.String() == "String" {
		return v.String()
	}
	if v.IsArray() {
		var out string
		for _, block := range v.Array() {
			if t := block.Get("text"); t.Exists() {
				if out != "" {
					out += "\n"
				}
				out += t.String()
			}
		}
		return out
	}
	return ""
}
