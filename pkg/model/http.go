package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kpotier/crystalgen/pkg/lattice"
)

// PathSample is the route of the model server called by HTTP.
const PathSample = "/sample"

// Request is the body sent to the model server.
type Request struct {
	Species    []int  `json:"species"`
	NumAtoms   []int  `json:"num_atoms"`
	Checkpoint string `json:"checkpoint,omitempty"`
	Device     string `json:"device,omitempty"`
	Threads    int    `json:"threads,omitempty"`
}

// Response is the body returned by the model server. The lattices are given
// either as matrices (rows are the basis vectors) or as lengths and angles.
type Response struct {
	Lattices [][3][3]float64 `json:"lattices,omitempty"`
	Lengths  [][3]float64    `json:"lengths,omitempty"`
	Angles   [][3]float64    `json:"angles,omitempty"`
	Frac     [][3]float64    `json:"frac"`
	Error    string          `json:"error,omitempty"`
}

// HTTP calls a model server. The server runs the model found in
// Options.Checkpoint on Options.Device.
type HTTP struct {
	url    string
	opts   Options
	client *http.Client
}

// NewHTTP returns a sampler calling the model server at opts.URL.
func NewHTTP(opts Options) (*HTTP, error) {
	if opts.URL == "" {
		return nil, errors.New("the url of the model server is missing")
	}
	return &HTTP{
		url:    strings.TrimSuffix(opts.URL, "/") + PathSample,
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}, nil
}

// Sample implements Sampler.
func (h *HTTP) Sample(ctx context.Context, species []int, numAtoms []int) ([]lattice.Matrix, [][3]float64, error) {
	body, err := json.Marshal(Request{
		Species:    species,
		NumAtoms:   numAtoms,
		Checkpoint: h.opts.Checkpoint,
		Device:     h.opts.Device,
		Threads:    h.opts.Threads,
	})
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("ReadAll: %w", err)
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, nil, fmt.Errorf("model server: %s", resp.Status)
		}
		return nil, nil, fmt.Errorf("Unmarshal: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("model server: %s: %s", resp.Status, out.Error)
	}

	lattices, err := out.lattices()
	if err != nil {
		return nil, nil, err
	}
	if err := checkOutput(numAtoms, lattices, out.Frac); err != nil {
		return nil, nil, err
	}
	return lattices, out.Frac, nil
}

// lattices returns the lattices of the response as matrices.
func (r Response) lattices() ([]lattice.Matrix, error) {
	if len(r.Lattices) > 0 {
		out := make([]lattice.Matrix, len(r.Lattices))
		for i, m := range r.Lattices {
			out[i] = lattice.Matrix(m)
		}
		return out, nil
	}

	if len(r.Lengths) != len(r.Angles) {
		return nil, fmt.Errorf("%d lengths for %d angles", len(r.Lengths), len(r.Angles))
	}

	out := make([]lattice.Matrix, len(r.Lengths))
	for i := range r.Lengths {
		m, err := lattice.FromParams(lattice.Params{Lengths: r.Lengths[i], Angles: r.Angles[i]})
		if err != nil {
			return nil, fmt.Errorf("lattice %d: %w", i, err)
		}
		out[i] = m
	}
	return out, nil
}
