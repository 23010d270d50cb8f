package topo

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// gmlNode and gmlEdge mirror the small subset of GML this simulator
// consumes: "graph [ node [ id N label "S" ] edge [ source N target M ] ]".
type gmlNode struct {
	id    string
	label string
}

type gmlEdge struct {
	source, target string
	weight         float64
}

var (
	gmlIDRe     = regexp.MustCompile(`id\s+(-?\d+)`)
	gmlLabelRe  = regexp.MustCompile(`label\s+"([^"]*)"`)
	gmlSourceRe = regexp.MustCompile(`source\s+(-?\d+)`)
	gmlTargetRe = regexp.MustCompile(`target\s+(-?\d+)`)
	gmlWeightRe = regexp.MustCompile(`weight\s+([0-9.]+)`)
)

// ParseGML reads a GML-style topology file (spec.md §6) and builds a
// Graph. Node and edge records may appear in any order and with
// arbitrary whitespace; this follows the same hand-rolled
// bufio-scanner-plus-regexp technique the teacher uses to parse its own
// link-state text format, there being no GML library anywhere in the
// reachable corpus.
func ParseGML(r io.Reader) (*Graph, error) {
	tokens, err := tokenizeGML(r)
	if err != nil {
		return nil, err
	}

	var nodes []gmlNode
	var edges []gmlEdge

	i := 0
	for i < len(tokens) {
		switch tokens[i] {
		case "node":
			block, next, err := readBlock(tokens, i+1)
			if err != nil {
				return nil, err
			}
			n, err := parseNodeBlock(block)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
			i = next
		case "edge":
			block, next, err := readBlock(tokens, i+1)
			if err != nil {
				return nil, err
			}
			e, err := parseEdgeBlock(block)
			if err != nil {
				return nil, err
			}
			edges = append(edges, e)
			i = next
		default:
			i++
		}
	}

	if len(nodes) == 0 {
		return nil, fmt.Errorf("topo: GML input has no node records")
	}

	byID := make(map[string]string, len(nodes)) // gml numeric id -> label
	g := newGraph()
	for _, n := range nodes {
		label := n.label
		if label == "" {
			label = n.id
		}
		byID[n.id] = label
		g.AddNode(label)
		if n.label != "" {
			g.SetNodeMeta(label, "label", n.label)
		}
	}

	for _, e := range edges {
		srcLabel, ok := byID[e.source]
		if !ok {
			return nil, fmt.Errorf("topo: edge references unknown node id %q", e.source)
		}
		dstLabel, ok := byID[e.target]
		if !ok {
			return nil, fmt.Errorf("topo: edge references unknown node id %q", e.target)
		}
		weight := e.weight
		if weight == 0 {
			weight = 1
		}
		if err := g.AddEdge(srcLabel, dstLabel, weight); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// tokenizeGML flattens the file into whitespace-separated tokens ("[",
// "]", "node", "edge", keys and values), one scan over the stream (mirrors the teacher's
// bufio.NewReader/ReadString('\n') loop in its own line reader).
func tokenizeGML(r io.Reader) ([]string, error) {
	var tokens []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		tokens = append(tokens, strings.Fields(line)...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("topo: reading GML: %w", err)
	}
	return tokens, nil
}

// readBlock consumes tokens[start:] up to and including the "[" ... "]"
// pair immediately following a "node"/"edge" keyword, returning the
// tokens inside and the index just past the closing "]".
func readBlock(tokens []string, start int) ([]string, int, error) {
	if start >= len(tokens) || tokens[start] != "[" {
		return nil, 0, fmt.Errorf("topo: expected '[' after node/edge, got %q", safeTok(tokens, start))
	}
	depth := 1
	i := start + 1
	var body []string
	for i < len(tokens) {
		switch tokens[i] {
		case "[":
			depth++
			body = append(body, tokens[i])
		case "]":
			depth--
			if depth == 0 {
				return body, i + 1, nil
			}
			body = append(body, tokens[i])
		default:
			body = append(body, tokens[i])
		}
		i++
	}
	return nil, 0, fmt.Errorf("topo: unterminated block starting at token %d", start)
}

func safeTok(tokens []string, i int) string {
	if i < 0 || i >= len(tokens) {
		return "<eof>"
	}
	return tokens[i]
}

func parseNodeBlock(body []string) (gmlNode, error) {
	joined := strings.Join(body, " ")
	idMatch := gmlIDRe.FindStringSubmatch(joined)
	if idMatch == nil {
		return gmlNode{}, fmt.Errorf("topo: node record missing id: %q", joined)
	}
	n := gmlNode{id: idMatch[1]}
	if lm := gmlLabelRe.FindStringSubmatch(joined); lm != nil {
		n.label = lm[1]
	}
	return n, nil
}

func parseEdgeBlock(body []string) (gmlEdge, error) {
	joined := strings.Join(body, " ")
	srcMatch := gmlSourceRe.FindStringSubmatch(joined)
	dstMatch := gmlTargetRe.FindStringSubmatch(joined)
	if srcMatch == nil || dstMatch == nil {
		return gmlEdge{}, fmt.Errorf("topo: edge record missing source/target: %q", joined)
	}
	e := gmlEdge{source: srcMatch[1], target: dstMatch[1]}
	if wm := gmlWeightRe.FindStringSubmatch(joined); wm != nil {
		w, err := strconv.ParseFloat(wm[1], 64)
		if err != nil {
			return gmlEdge{}, fmt.Errorf("topo: invalid edge weight %q: %w", wm[1], err)
		}
		e.weight = w
	}
	return e, nil
}
