package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agrotrace.org/internal/access"
	"agrotrace.org/internal/obs"
	"agrotrace.org/internal/provenance"
	"agrotrace.org/internal/stream"
)

// Timestamps on the wire are unix seconds so values round-trip exactly
// regardless of client timezone handling.
type productDTO struct {
	ID           uint64 `json:"id"`
	Name         string `json:"name"`
	Origin       string `json:"origin"`
	HarvestDate  int64  `json:"harvest_date"`
	CurrentOwner string `json:"current_owner"`
}

type historyDTO struct {
	ID               uint64   `json:"id"`
	Name             string   `json:"name"`
	Origin           string   `json:"origin"`
	HarvestDate      int64    `json:"harvest_date"`
	CurrentOwner     string   `json:"current_owner"`
	QualityChecks    []string `json:"quality_checks"`
	OwnershipHistory []string `json:"ownership_history"`
	LocationHistory  []string `json:"location_history"`
}

type certificationDTO struct {
	Standard   string `json:"standard"`
	Issuer     string `json:"issuer"`
	IssueDate  int64  `json:"issue_date"`
	ExpiryDate int64  `json:"expiry_date"`
}

func toProductDTO(p provenance.Product) productDTO {
	return productDTO{
		ID:           p.ID,
		Name:         p.Name,
		Origin:       p.Origin,
		HarvestDate:  p.HarvestDate.Unix(),
		CurrentOwner: p.CurrentOwner,
	}
}

func toCertificationDTO(c provenance.Certification) certificationDTO {
	return certificationDTO{
		Standard:   c.Standard,
		Issuer:     c.Issuer,
		IssueDate:  c.IssueDate.Unix(),
		ExpiryDate: c.ExpiryDate.Unix(),
	}
}

func (a *API) handleProductsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.registerProduct(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

// handleProductResource routes /v1/products/count and /v1/products/{id}/...
func (a *API) handleProductResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/products/")
	if rest == "count" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.productCount(w, r)
		return
	}

	idPart, sub, _ := strings.Cut(rest, "/")
	productID, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || productID == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid product id")
		return
	}

	switch sub {
	case "history":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.productHistory(w, r, productID)
	case "transfer":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.transferOwnership(w, r, productID)
	case "location":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.updateLocation(w, r, productID)
	case "quality-checks":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.addQualityCheck(w, r, productID)
	case "certifications":
		switch r.Method {
		case http.MethodGet:
			a.listCertifications(w, r, productID)
		case http.MethodPost:
			a.addCertification(w, r, productID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case "footprint":
		switch r.Method {
		case http.MethodGet:
			a.getFootprint(w, r, productID)
		case http.MethodPut:
			a.setFootprint(w, r, productID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		}
	default:
		http.NotFound(w, r)
	}
}

func (a *API) registerProduct(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r, a)
	if !ok {
		return
	}
	if err := a.policy.Authorize(r.Context(), principal, access.OpRegisterProduct); err != nil {
		handleAccessError(w, r, err)
		return
	}

	var req struct {
		Name        string `json:"name"`
		Origin      string `json:"origin"`
		HarvestDate int64  `json:"harvest_date"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.HarvestDate <= 0 {
		writeError(w, r, http.StatusBadRequest, "harvest_date must be a positive unix timestamp")
		return
	}

	product, err := a.ledger.Register(r.Context(), principal, req.Name, req.Origin, time.Unix(req.HarvestDate, 0).UTC())
	obs.CountLedgerOp(string(access.OpRegisterProduct), err)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "product.registered", "product", strconv.FormatUint(product.ID, 10), map[string]string{
		"name":   product.Name,
		"origin": product.Origin,
	})
	a.stream.Publish(stream.Event{
		Type:      stream.EventProductRegistered,
		ProductID: product.ID,
		Actor:     principal,
		Detail:    product.Name,
	})

	w.Header().Set("Location", fmt.Sprintf("/v1/products/%d/history", product.ID))
	writeJSON(w, http.StatusCreated, toProductDTO(product))
}

func (a *API) transferOwnership(w http.ResponseWriter, r *http.Request, productID uint64) {
	principal, ok := requirePrincipal(w, r, a)
	if !ok {
		return
	}
	if err := a.policy.Authorize(r.Context(), principal, access.OpTransferOwnership); err != nil {
		handleAccessError(w, r, err)
		return
	}

	var req struct {
		NewOwner string `json:"new_owner"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	product, err := a.ledger.TransferOwnership(r.Context(), principal, productID, req.NewOwner)
	obs.CountLedgerOp(string(access.OpTransferOwnership), err)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "product.transferred", "product", strconv.FormatUint(productID, 10), map[string]string{
		"new_owner": product.CurrentOwner,
	})
	a.stream.Publish(stream.Event{
		Type:      stream.EventOwnershipTransfer,
		ProductID: productID,
		Actor:     principal,
		Detail:    product.CurrentOwner,
	})
	writeJSON(w, http.StatusOK, toProductDTO(product))
}

func (a *API) updateLocation(w http.ResponseWriter, r *http.Request, productID uint64) {
	principal, ok := requirePrincipal(w, r, a)
	if !ok {
		return
	}
	if err := a.policy.Authorize(r.Context(), principal, access.OpUpdateLocation); err != nil {
		handleAccessError(w, r, err)
		return
	}

	var req struct {
		Location string `json:"location"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	err := a.ledger.UpdateLocation(r.Context(), principal, productID, req.Location)
	obs.CountLedgerOp(string(access.OpUpdateLocation), err)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "product.location_updated", "product", strconv.FormatUint(productID, 10), map[string]string{
		"location": strings.TrimSpace(req.Location),
	})
	a.stream.Publish(stream.Event{
		Type:      stream.EventLocationUpdated,
		ProductID: productID,
		Actor:     principal,
		Detail:    strings.TrimSpace(req.Location),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"product_id": productID,
		"location":   strings.TrimSpace(req.Location),
	})
}

func (a *API) addQualityCheck(w http.ResponseWriter, r *http.Request, productID uint64) {
	principal, ok := requirePrincipal(w, r, a)
	if !ok {
		return
	}
	if err := a.policy.Authorize(r.Context(), principal, access.OpAddQualityCheck); err != nil {
		handleAccessError(w, r, err)
		return
	}

	var req struct {
		Result string `json:"result"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	err := a.ledger.AddQualityCheck(r.Context(), principal, productID, req.Result)
	obs.CountLedgerOp(string(access.OpAddQualityCheck), err)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "product.quality_checked", "product", strconv.FormatUint(productID, 10), map[string]string{
		"result": strings.TrimSpace(req.Result),
	})
	a.stream.Publish(stream.Event{
		Type:      stream.EventQualityCheck,
		ProductID: productID,
		Actor:     principal,
		Detail:    strings.TrimSpace(req.Result),
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"product_id": productID,
		"result":     strings.TrimSpace(req.Result),
	})
}

func (a *API) addCertification(w http.ResponseWriter, r *http.Request, productID uint64) {
	principal, ok := requirePrincipal(w, r, a)
	if !ok {
		return
	}
	if err := a.policy.Authorize(r.Context(), principal, access.OpAddCertification); err != nil {
		handleAccessError(w, r, err)
		return
	}

	var req certificationDTO
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.IssueDate <= 0 || req.ExpiryDate <= 0 {
		writeError(w, r, http.StatusBadRequest, "issue_date and expiry_date must be positive unix timestamps")
		return
	}

	cert := provenance.Certification{
		Standard:   req.Standard,
		Issuer:     req.Issuer,
		IssueDate:  time.Unix(req.IssueDate, 0).UTC(),
		ExpiryDate: time.Unix(req.ExpiryDate, 0).UTC(),
	}
	err := a.ledger.AddCertification(r.Context(), principal, productID, cert)
	obs.CountLedgerOp(string(access.OpAddCertification), err)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "product.certified", "product", strconv.FormatUint(productID, 10), map[string]string{
		"standard": cert.Standard,
		"issuer":   cert.Issuer,
	})
	a.stream.Publish(stream.Event{
		Type:      stream.EventCertification,
		ProductID: productID,
		Actor:     principal,
		Detail:    cert.Standard,
	})
	writeJSON(w, http.StatusCreated, toCertificationDTO(cert))
}

func (a *API) setFootprint(w http.ResponseWriter, r *http.Request, productID uint64) {
	principal, ok := requirePrincipal(w, r, a)
	if !ok {
		return
	}
	if err := a.policy.Authorize(r.Context(), principal, access.OpSetCarbonFootprint); err != nil {
		handleAccessError(w, r, err)
		return
	}

	var req provenance.CarbonFootprint
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	err := a.ledger.SetCarbonFootprint(r.Context(), principal, productID, req)
	obs.CountLedgerOp(string(access.OpSetCarbonFootprint), err)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "product.footprint_set", "product", strconv.FormatUint(productID, 10), nil)
	a.stream.Publish(stream.Event{
		Type:      stream.EventFootprintSet,
		ProductID: productID,
		Actor:     principal,
	})
	writeJSON(w, http.StatusOK, req)
}

func (a *API) productHistory(w http.ResponseWriter, r *http.Request, productID uint64) {
	h, err := a.ledger.History(r.Context(), productID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyDTO{
		ID:               h.ID,
		Name:             h.Name,
		Origin:           h.Origin,
		HarvestDate:      h.HarvestDate.Unix(),
		CurrentOwner:     h.CurrentOwner,
		QualityChecks:    h.QualityChecks,
		OwnershipHistory: h.OwnershipHistory,
		LocationHistory:  h.LocationHistory,
	})
}

func (a *API) getFootprint(w http.ResponseWriter, r *http.Request, productID uint64) {
	fp, err := a.ledger.Footprint(r.Context(), productID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fp)
}

func (a *API) listCertifications(w http.ResponseWriter, r *http.Request, productID uint64) {
	certs, err := a.ledger.Certifications(r.Context(), productID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	out := make([]certificationDTO, 0, len(certs))
	for _, c := range certs {
		out = append(out, toCertificationDTO(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product_id":     productID,
		"certifications": out,
	})
}

func (a *API) productCount(w http.ResponseWriter, r *http.Request) {
	n, err := a.ledger.Count(r.Context())
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": n})
}
