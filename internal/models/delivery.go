package models

import "time"

// Statuts livraison. A delivery leaves EN_COURS exactly once, to one of the
// terminal statuses.
const (
	DeliveryStatusEnCours = "EN_COURS"
	DeliveryStatusLivre   = "LIVRE"
	DeliveryStatusEchec   = "ECHEC"
	DeliveryStatusAnnule  = "ANNULE"
)

// Statuts planification.
const (
	PlanningStatusPlanifie = "PLANIFIE"
	PlanningStatusAnnule   = "ANNULE"
)

// Statuts commande.
const (
	OrderStatusEnAttente = "EN_ATTENTE"
	OrderStatusConfirmee = "CONFIRMEE"
	OrderStatusEnCours   = "EN_COURS"
	OrderStatusLivree    = "LIVREE"
	OrderStatusAnnulee   = "ANNULEE"
	OrderStatusEchouee   = "ECHOUEE"
)

func IsTerminalDeliveryStatus(status string) bool {
	switch status {
	case DeliveryStatusLivre, DeliveryStatusEchec, DeliveryStatusAnnule:
		return true
	}
	return false
}

func IsValidDeliveryStatus(status string) bool {
	switch status {
	case DeliveryStatusEnCours, DeliveryStatusLivre, DeliveryStatusEchec, DeliveryStatusAnnule:
		return true
	}
	return false
}

type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

type Livraison struct {
	ID                string
	PlanificationID   string
	Statut            string
	DerniereLatitude  *float64
	DerniereLongitude *float64
	PositionAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LastPosition returns nil while no live position has been recorded.
func (l *Livraison) LastPosition() *Position {
	if l.DerniereLatitude == nil || l.DerniereLongitude == nil {
		return nil
	}
	p := Position{Latitude: *l.DerniereLatitude, Longitude: *l.DerniereLongitude}
	if l.PositionAt != nil {
		p.Timestamp = *l.PositionAt
	}
	return &p
}

type Planification struct {
	ID                    string
	CommandeID            string
	LivreurNom            string
	CamionImmatriculation string
	Statut                string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Commande struct {
	ID        string
	Statut    string
	AdresseID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Adresse struct {
	ID        string  `json:"id"`
	Rue       string  `json:"rue"`
	Ville     string  `json:"ville"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
