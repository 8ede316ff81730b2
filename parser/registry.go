package parser

import "fmt"

type LlamaParseConfig struct {
	APIKey  string
	BaseURL string
}

type Registry struct {
	parsers    map[string]Parser
	llamaParse *LlamaParseConfig
}

func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	// Register built-in parsers
	pdf := &PDFParser{}
	docx := &DOCXParser{}
	xlsx := &XLSXParser{}
	pptx := &PPTXParser{}
	text := &TextParser{}
	legacy := &LegacyParser{}

	for _, p := range []Parser{pdf, docx, xlsx, pptx, text, legacy} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

func (r *Registry) SetLlamaParse(cfg LlamaParseConfig) {
	r.llamaParse = &cfg
	lp := NewLlamaParseParser(cfg)
	// Only the legacy binary formats route to the external service; the
	// OOXML/PDF formats keep their native parsers.
	for _, f := range []string{"doc", "xls", "ppt"} {
		r.parsers[f] = lp
	}
}

func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("no parser for format: %s", format)
	}
	return p, nil
}

func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}
