package scene

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// MessageSource supplies the text a speaking entity displays.
type MessageSource interface {
	Message(d Descriptor) string
}

// MessageFunc adapts a function to MessageSource.
type MessageFunc func(d Descriptor) string

func (f MessageFunc) Message(d Descriptor) string {
	return f(d)
}

type printerMessages struct {
	printer *message.Printer
}

// LocalizedMessages formats holdings with the number conventions of tag.
func LocalizedMessages(tag language.Tag) MessageSource {
	return printerMessages{printer: message.NewPrinter(tag)}
}

// DefaultMessages formats for English.
func DefaultMessages() MessageSource {
	return LocalizedMessages(language.English)
}

func (m printerMessages) Message(d Descriptor) string {
	name := d.Name
	if name == "" {
		name = d.ID
	}
	switch d.Trend {
	case TrendIncreasing:
		return m.printer.Sprintf("%s is climbing, now at %.2f!", name, d.Value)
	case TrendDecreasing:
		return m.printer.Sprintf("%s is slipping to %.2f. Time to work out.", name, d.Value)
	default:
		return m.printer.Sprintf("%s is holding steady at %.2f.", name, d.Value)
	}
}
