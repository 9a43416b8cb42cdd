/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package packet

// ExceptionFrame is one link in a reconstructed exception chain:
// index i+1 in the on-wire arrays becomes the Inner exception of index
// i (spec.md 4.4.3).
type ExceptionFrame struct {
	TypeName   string
	Message    string
	Source     string
	StackTrace string
	Inner      *ExceptionFrame
}

// ExceptionInfo is the on-wire shape of an exception chain: four
// parallel arrays of equal length, outer exception first. It is carried
// inline as four fields of the owning LogMessage packet rather than as
// an independently dispatched packet type — nothing else ever
// references an exception chain by id, so it has no cache entry and no
// factory registration of its own.
type ExceptionInfo struct {
	TypeNames   []string
	Messages    []string
	Sources     []string
	StackTraces []string
}

// Len reports the number of frames in the chain.
func (e ExceptionInfo) Len() int { return len(e.TypeNames) }

// Chain reconstructs the linked exception chain, outer exception first.
// An empty ExceptionInfo yields a nil chain.
func (e ExceptionInfo) Chain() *ExceptionFrame {
	n := len(e.TypeNames)
	if n == 0 {
		return nil
	}
	frames := make([]ExceptionFrame, n)
	for i := 0; i < n; i++ {
		frames[i] = ExceptionFrame{
			TypeName:   at(e.TypeNames, i),
			Message:    at(e.Messages, i),
			Source:     at(e.Sources, i),
			StackTrace: at(e.StackTraces, i),
		}
	}
	for i := 0; i < n-1; i++ {
		frames[i].Inner = &frames[i+1]
	}
	return &frames[0]
}

func at(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return ""
}

// ExceptionInfoFromChain flattens a linked exception chain (outer
// first) back into the four parallel arrays used on the wire. A nil
// chain yields a zero-length (never nil) ExceptionInfo, per spec.md
// 4.4.3: "empty chain is represented as zero-length arrays, never null."
func ExceptionInfoFromChain(chain *ExceptionFrame) ExceptionInfo {
	info := ExceptionInfo{
		TypeNames:   []string{},
		Messages:    []string{},
		Sources:     []string{},
		StackTraces: []string{},
	}
	for f := chain; f != nil; f = f.Inner {
		info.TypeNames = append(info.TypeNames, f.TypeName)
		info.Messages = append(info.Messages, f.Message)
		info.Sources = append(info.Sources, f.Source)
		info.StackTraces = append(info.StackTraces, f.StackTrace)
	}
	return info
}
