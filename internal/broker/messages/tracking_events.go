package messages

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Event kinds on the push channel and the broker. Closed set: every payload
// below belongs to exactly one kind.
const (
	KindPositionUpdated = "position_updated"
	KindStatusUpdated   = "status_updated"
	KindPositionError   = "position_error"
)

// Entities a StatusChanged broker message can refer to.
const (
	EntityCommande      = "commande"
	EntityPlanification = "planification"
	EntityLivraison     = "livraison"
)

// PositionReport is the inbound report from a driver device. TrackingKey is
// either a livraison id or, early in the route, the planification id the
// driver app still holds.
type PositionReport struct {
	TrackingKey string    `json:"tracking_key"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Timestamp   time.Time `json:"timestamp"`
}

// StatusChange is the inbound request to move a delivery to a new status.
type StatusChange struct {
	TrackingKey string `json:"tracking_key"`
	Statut      string `json:"statut"`
}

// PositionUpdated is pushed to every session subscribed under either the
// livraison id or its planification id.
type PositionUpdated struct {
	LivraisonID     string    `json:"livraison_id"`
	PlanificationID string    `json:"planification_id"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	Timestamp       time.Time `json:"timestamp"`
}

// StatusUpdated carries all three ids so a subscriber keyed on any of them
// can recognize the event as relevant. LivraisonID is empty before the
// delivery record exists. Entite names which of the three statuses moved:
// ANNULE alone does not say whether the planification or the livraison was
// cancelled.
type StatusUpdated struct {
	CommandeID      string    `json:"commande_id"`
	PlanificationID string    `json:"planification_id"`
	LivraisonID     string    `json:"livraison_id,omitempty"`
	Entite          string    `json:"entite"`
	Statut          string    `json:"statut"`
	Timestamp       time.Time `json:"timestamp"`
}

// PositionError is sent only to the session whose report failed.
type PositionError struct {
	TrackingKey string `json:"tracking_key"`
	Reason      string `json:"reason"`
}

// StatusChanged is the broker message published on the status topic by the
// CRUD platform (and by this service for livraison transitions).
type StatusChanged struct {
	CommandeID      string    `json:"commande_id"`
	PlanificationID string    `json:"planification_id"`
	LivraisonID     string    `json:"livraison_id,omitempty"`
	Entite          string    `json:"entite"`
	Statut          string    `json:"statut"`
	Timestamp       time.Time `json:"timestamp"`
	// Origine names the publishing service, so a consumer that also
	// publishes to the topic can skip its own messages.
	Origine string `json:"origine,omitempty"`
}

// Event is one outbound push event: a kind plus its already-encoded payload.
type Event struct {
	Kind    string
	Payload json.RawMessage
}

func NewEvent(kind string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.Wrap(err, "encode event payload")
	}
	return Event{Kind: kind, Payload: b}, nil
}

func MustEvent(kind string, payload any) Event {
	ev, err := NewEvent(kind, payload)
	if err != nil {
		panic(err)
	}
	return ev
}
