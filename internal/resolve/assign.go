package resolve

import (
	"strconv"

	"contractflow/api/internal/placeholder"
)

// Slot binds one token occurrence to what should replace it.
type Slot struct {
	Token placeholder.Token
	// Index is the occurrence number of Token.Name, counted in document order.
	Index int
	// Entry is nil when the name resolved to nothing.
	Entry *Entry
	// Value is the substitution for non-editable entries.
	Value string
}

// Plan is the outcome of assigning entries to every token occurrence.
type Plan struct {
	Slots   []Slot
	Entries []*Entry
}

// OccurrenceKey returns the per-occurrence key of a repeatable name.
func OccurrenceKey(name string, index int) string {
	return name + "_" + strconv.Itoa(index)
}

// Assign walks tokens in document order. Repeatable names get one editable
// entry per occurrence whose value comes only from overrides. Non-repeatable
// names share their resolved entry; a name with several raw values that
// occurs several times cycles through them.
func Assign(tokens []placeholder.Token, resolved map[string]*Entry, overrides map[string]string) Plan {
	counts := placeholder.Counts(tokens)
	seen := make(map[string]int, len(counts))
	listed := make(map[string]bool, len(tokens))

	plan := Plan{Slots: make([]Slot, 0, len(tokens))}
	for _, tok := range tokens {
		index := seen[tok.Name]
		seen[tok.Name]++

		slot := Slot{Token: tok, Index: index}
		if placeholder.IsRepeatable(tok.Name) {
			key := OccurrenceKey(tok.Name, index)
			entry := &Entry{
				Key:           placeholder.Literal(tok.Name),
				Name:          tok.Name,
				OccurrenceKey: key,
				Description:   describeRepeatable(tok.Name, index),
				RawValues:     []string{},
				Editable:      true,
				InputValue:    overrides[key],
			}
			slot.Entry = entry
			plan.Entries = append(plan.Entries, entry)
			plan.Slots = append(plan.Slots, slot)
			continue
		}

		entry := resolved[tok.Name]
		if entry != nil {
			slot.Entry = entry
			slot.Value = entry.Display
			if len(entry.RawValues) > 1 && counts[tok.Name] > 1 {
				slot.Value = entry.RawValues[index%len(entry.RawValues)]
			}
			if !listed[tok.Name] {
				listed[tok.Name] = true
				plan.Entries = append(plan.Entries, entry)
			}
		}
		plan.Slots = append(plan.Slots, slot)
	}
	return plan
}

func describeRepeatable(name string, index int) string {
	label := "Free text"
	switch name {
	case placeholder.Signature:
		label = "Signature"
	case placeholder.SignatureUser:
		label = "Signature (initiating party)"
	case placeholder.SignatureInfluencer:
		label = "Signature (counter-party)"
	}
	return label + " #" + strconv.Itoa(index+1)
}

// Variables returns the persisted occurrenceKey -> value map. Empty editable
// occurrences and unresolved names map to nil.
func (p Plan) Variables() map[string]*string {
	vars := make(map[string]*string, len(p.Slots))
	for _, slot := range p.Slots {
		if slot.Entry == nil {
			if _, ok := vars[slot.Token.Name]; !ok {
				vars[slot.Token.Name] = nil
			}
			continue
		}
		if slot.Entry.Editable {
			if slot.Entry.InputValue == "" {
				vars[slot.Entry.OccurrenceKey] = nil
				continue
			}
			value := slot.Entry.InputValue
			vars[slot.Entry.OccurrenceKey] = &value
			continue
		}
		value := slot.Entry.Display
		vars[slot.Entry.OccurrenceKey] = &value
	}
	return vars
}

// Overrides extracts the editable values of a persisted variable map.
func Overrides(vars map[string]*string) map[string]string {
	out := make(map[string]string, len(vars))
	for key, value := range vars {
		if value != nil && *value != "" {
			out[key] = *value
		}
	}
	return out
}
