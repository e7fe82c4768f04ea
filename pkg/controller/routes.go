package controller

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Mount registers the controller's routes on mux under prefix (for example
// "/person"). Keys are captured greedily and may contain slashes. Routes
// under prefix/async/ use the asynchronous variants.
//
//	GET    prefix              list
//	GET    prefix/{key...}     get
//	POST   prefix/             create
//	PUT    prefix/{key...}     update
//	PATCH  prefix/{key...}     patch
//	DELETE prefix/{key...}     delete
func (c *Controller[T]) Mount(mux *http.ServeMux, prefix string) {
	prefix = "/" + strings.Trim(prefix, "/")

	mux.HandleFunc("GET "+prefix, c.serveList)
	mux.HandleFunc("GET "+prefix+"/{$}", c.serveList)
	mux.HandleFunc("GET "+prefix+"/{key...}", c.serveGet)
	mux.HandleFunc("GET "+prefix+"/async/{key...}", c.serveGetAsync)

	mux.HandleFunc("POST "+prefix, c.serveCreate)
	mux.HandleFunc("POST "+prefix+"/{$}", c.serveCreate)
	mux.HandleFunc("POST "+prefix+"/async", c.serveCreateAsync)

	mux.HandleFunc("PUT "+prefix+"/{key...}", c.serveUpdate)
	mux.HandleFunc("PUT "+prefix+"/async/{key...}", c.serveUpdateAsync)

	mux.HandleFunc("PATCH "+prefix+"/{key...}", c.servePatch)
	mux.HandleFunc("PATCH "+prefix+"/async/{key...}", c.servePatchAsync)

	mux.HandleFunc("DELETE "+prefix+"/{key...}", c.serveDelete)
	mux.HandleFunc("DELETE "+prefix+"/async/{key...}", c.serveDeleteAsync)
}

func (c *Controller[T]) serveList(w http.ResponseWriter, r *http.Request) {
	WriteResult(w, c.List(r.Context()))
}

func (c *Controller[T]) serveGet(w http.ResponseWriter, r *http.Request) {
	WriteResult(w, c.Get(r.Context(), r.PathValue("key")))
}

func (c *Controller[T]) serveGetAsync(w http.ResponseWriter, r *http.Request) {
	wait(w, r, c.GetAsync(r.Context(), r.PathValue("key")))
}

func (c *Controller[T]) serveCreate(w http.ResponseWriter, r *http.Request) {
	input, ok := c.decode(w, r)
	if !ok {
		return
	}
	WriteResult(w, c.Create(r.Context(), input))
}

func (c *Controller[T]) serveCreateAsync(w http.ResponseWriter, r *http.Request) {
	input, ok := c.decode(w, r)
	if !ok {
		return
	}
	wait(w, r, c.CreateAsync(r.Context(), input))
}

func (c *Controller[T]) serveUpdate(w http.ResponseWriter, r *http.Request) {
	input, ok := c.decode(w, r)
	if !ok {
		return
	}
	WriteResult(w, c.Update(r.Context(), r.PathValue("key"), input))
}

func (c *Controller[T]) serveUpdateAsync(w http.ResponseWriter, r *http.Request) {
	input, ok := c.decode(w, r)
	if !ok {
		return
	}
	wait(w, r, c.UpdateAsync(r.Context(), r.PathValue("key"), input))
}

func (c *Controller[T]) servePatch(w http.ResponseWriter, r *http.Request) {
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	WriteResult(w, c.Patch(r.Context(), r.PathValue("key"), raw))
}

func (c *Controller[T]) servePatchAsync(w http.ResponseWriter, r *http.Request) {
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	wait(w, r, c.PatchAsync(r.Context(), r.PathValue("key"), raw))
}

func (c *Controller[T]) serveDelete(w http.ResponseWriter, r *http.Request) {
	WriteResult(w, c.Delete(r.Context(), r.PathValue("key")))
}

func (c *Controller[T]) serveDeleteAsync(w http.ResponseWriter, r *http.Request) {
	wait(w, r, c.DeleteAsync(r.Context(), r.PathValue("key")))
}

// decode reads a full entity from the request body. It writes 400 and
// returns false when the body is not a valid T or is JSON null.
func (c *Controller[T]) decode(w http.ResponseWriter, r *http.Request) (*T, bool) {
	var input *T
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&input); err != nil {
		WriteResult(w, failure(http.StatusBadRequest, fmt.Errorf("decoding %s: %w", c.name, err), nil))
		return nil, false
	}
	if input == nil {
		WriteResult(w, failure(http.StatusBadRequest, errRequestBody, nil))
		return nil, false
	}
	return input, true
}

func readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		WriteResult(w, failure(http.StatusBadRequest, fmt.Errorf("reading body: %w", err), nil))
		return nil, false
	}
	return raw, true
}

// wait writes the result of an async operation, or nothing if the client
// goes away first.
func wait(w http.ResponseWriter, r *http.Request, ch <-chan Result) {
	select {
	case res := <-ch:
		WriteResult(w, res)
	case <-r.Context().Done():
	}
}

// WriteResult writes res as a JSON response.
func WriteResult(w http.ResponseWriter, res Result) {
	WriteJSON(w, res.Status, res.Body)
}

// WriteJSON writes payload as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
