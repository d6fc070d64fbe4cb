package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/ndlib/cdxd/access"
)

// The access control admin API. Rules and policies are plain JSON
// documents; POST stores one (assigning an id when absent) and echoes
// it back with its id filled in.

func writeJSON(w http.ResponseWriter, val interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(val)
}

func paramID(ps httprouter.Params) (uint64, error) {
	return strconv.ParseUint(ps.ByName("id"), 10, 64)
}

// ListRulesHandler handles GET /:collection/access/rules.
func (s *RESTServer) ListRulesHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ix := s.lookup(w, ps)
	if ix == nil {
		return
	}
	writeJSON(w, ix.Access.Rules())
}

// GetRuleHandler handles GET /:collection/access/rules/:id.
func (s *RESTServer) GetRuleHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ix := s.lookup(w, ps)
	if ix == nil {
		return
	}
	id, err := paramID(ps)
	if err != nil {
		http.Error(w, "Bad rule id", http.StatusBadRequest)
		return
	}
	rule := ix.Access.Rule(id)
	if rule == nil {
		http.Error(w, "No such rule", http.StatusNotFound)
		return
	}
	writeJSON(w, rule)
}

// PutRuleHandler handles POST /:collection/access/rules. The body is
// one rule as JSON; a rule with an id replaces the stored rule.
func (s *RESTServer) PutRuleHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ix := s.lookup(w, ps)
	if ix == nil {
		return
	}
	rule := new(access.Rule)
	if err := json.NewDecoder(r.Body).Decode(rule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := ix.Access.PutRule(rule); err != nil {
		status := http.StatusInternalServerError
		if errors.Cause(err) == access.ErrUnknownPolicy {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, rule)
}

// DeleteRuleHandler handles DELETE /:collection/access/rules/:id.
func (s *RESTServer) DeleteRuleHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ix := s.lookup(w, ps)
	if ix == nil {
		return
	}
	id, err := paramID(ps)
	if err != nil {
		http.Error(w, "Bad rule id", http.StatusBadRequest)
		return
	}
	existed, err := ix.Access.DeleteRule(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !existed {
		http.Error(w, "No such rule", http.StatusNotFound)
		return
	}
	fmt.Fprintf(w, "Deleted rule %d\n", id)
}

// ListPoliciesHandler handles GET /:collection/access/policies.
func (s *RESTServer) ListPoliciesHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ix := s.lookup(w, ps)
	if ix == nil {
		return
	}
	writeJSON(w, ix.Access.Policies())
}

// GetPolicyHandler handles GET /:collection/access/policies/:id.
func (s *RESTServer) GetPolicyHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ix := s.lookup(w, ps)
	if ix == nil {
		return
	}
	id, err := paramID(ps)
	if err != nil {
		http.Error(w, "Bad policy id", http.StatusBadRequest)
		return
	}
	policy := ix.Access.Policy(id)
	if policy == nil {
		http.Error(w, "No such policy", http.StatusNotFound)
		return
	}
	writeJSON(w, policy)
}

// PutPolicyHandler handles POST /:collection/access/policies.
func (s *RESTServer) PutPolicyHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ix := s.lookup(w, ps)
	if ix == nil {
		return
	}
	policy := new(access.Policy)
	if err := json.NewDecoder(r.Body).Decode(policy); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := ix.Access.PutPolicy(policy); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, policy)
}
