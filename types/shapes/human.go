// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// HumanString returns the XLA human-readable form of the shape, without layouts.
// E.g.: `f32[2,3]`, `s32[]` or `(f32[2], pred[])` for a tuple.
func HumanString(s Shape) string {
	return humanString(s, false)
}

// HumanStringWithLayout is like HumanString, but appends the layout, if present.
// E.g.: `f32[2,3]{1,0}`.
func HumanStringWithLayout(s Shape) string {
	return humanString(s, true)
}

func humanString(s Shape, withLayout bool) string {
	var sb strings.Builder
	writeHumanString(&sb, s, withLayout)
	return sb.String()
}

func writeHumanString(sb *strings.Builder, s Shape, withLayout bool) {
	if s.IsTuple() {
		sb.WriteByte('(')
		for ii, element := range s.TupleShapes {
			if ii > 0 {
				sb.WriteString(", ")
			}
			writeHumanString(sb, element, withLayout)
		}
		sb.WriteByte(')')
		return
	}
	if !s.Ok() {
		sb.WriteString("invalid")
		return
	}
	sb.WriteString(PrimitiveName(s.DType))
	sb.WriteByte('[')
	sb.WriteString(joinInts(s.Dimensions))
	sb.WriteByte(']')
	if withLayout && s.Layout != nil {
		sb.WriteString(s.Layout.String())
	}
}

// Parse converts the human-readable form of a shape back to a Shape, it's the inverse of
// HumanStringWithLayout. E.g.: `f32[2,2]{0,1}` or `(s32[], f32[3])`.
//
// The layout is not validated, see ValidateWithOptionalLayout.
func Parse(text string) (Shape, error) {
	p := &shapeParser{text: text}
	s, err := p.parseShape()
	if err != nil {
		return Invalid(), errors.WithMessagef(err, "failed to parse shape %q", text)
	}
	p.skipSpaces()
	if p.pos != len(p.text) {
		return Invalid(), errors.Errorf("failed to parse shape %q: unexpected %q at position %d",
			text, p.text[p.pos:], p.pos)
	}
	return s, nil
}

type shapeParser struct {
	text string
	pos  int
}

func (p *shapeParser) skipSpaces() {
	for p.pos < len(p.text) && p.text[p.pos] == ' ' {
		p.pos++
	}
}

func (p *shapeParser) consume(c byte) bool {
	p.skipSpaces()
	if p.pos < len(p.text) && p.text[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *shapeParser) parseShape() (Shape, error) {
	if p.consume('(') {
		elements := make([]Shape, 0)
		if p.consume(')') {
			return MakeTuple(elements...), nil
		}
		for {
			element, err := p.parseShape()
			if err != nil {
				return Invalid(), err
			}
			elements = append(elements, element)
			if p.consume(')') {
				return MakeTuple(elements...), nil
			}
			if !p.consume(',') {
				return Invalid(), errors.Errorf("expected ',' or ')' at position %d", p.pos)
			}
		}
	}

	p.skipSpaces()
	start := p.pos
	for p.pos < len(p.text) && (unicode.IsLetter(rune(p.text[p.pos])) || unicode.IsDigit(rune(p.text[p.pos]))) {
		p.pos++
	}
	dtype, err := DTypeFromPrimitiveName(p.text[start:p.pos])
	if err != nil {
		return Invalid(), err
	}
	if !p.consume('[') {
		return Invalid(), errors.Errorf("expected '[' at position %d", p.pos)
	}
	dims, err := p.parseInts(']')
	if err != nil {
		return Invalid(), err
	}
	s := Shape{DType: dtype, Dimensions: dims}
	if p.consume('{') {
		minorToMajor, err := p.parseInts('}')
		if err != nil {
			return Invalid(), err
		}
		s = s.WithLayout(minorToMajor...)
	}
	return s, nil
}

// parseInts parses a comma separated list of integers up to the closing character.
func (p *shapeParser) parseInts(closing byte) ([]int, error) {
	values := make([]int, 0)
	if p.consume(closing) {
		return values, nil
	}
	for {
		p.skipSpaces()
		start := p.pos
		if p.pos < len(p.text) && p.text[p.pos] == '-' {
			p.pos++
		}
		for p.pos < len(p.text) && unicode.IsDigit(rune(p.text[p.pos])) {
			p.pos++
		}
		value, err := strconv.Atoi(p.text[start:p.pos])
		if err != nil {
			return nil, errors.Errorf("expected integer at position %d", start)
		}
		values = append(values, value)
		if p.consume(closing) {
			return values, nil
		}
		if !p.consume(',') {
			return nil, errors.Errorf("expected ',' or '%c' at position %d", closing, p.pos)
		}
	}
}
