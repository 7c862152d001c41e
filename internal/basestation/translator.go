package basestation

// Translator decodes Port30003 text into messages
type Translator struct{}

// NewTranslator creates a Port30003 translator
func NewTranslator() *Translator {
	return &Translator{}
}

// Translate decodes one line. Lines that carry no aircraft, such as CLK
// heartbeats, yield a nil message.
func (t *Translator) Translate(text string, signalLevel *int) (*Message, error) {
	m, err := Parse(text, signalLevel)
	if err != nil {
		return nil, err
	}
	if m.Icao24 == "" {
		return nil, nil
	}
	return m, nil
}
