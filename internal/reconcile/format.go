package reconcile

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/roadsight/viewer/internal/registry"
	"github.com/roadsight/viewer/internal/view"
	"github.com/roadsight/viewer/pkg/core"
)

// Colors and sizes of the map markers.
const (
	RiskColor      = "#ff4444"
	NormalColor    = "#4285F4"
	RiskFill       = "rgba(255, 68, 68, 0.2)"
	NormalFill     = "rgba(66, 133, 244, 0.2)"
	CollisionColor = "#ff0000"
	PathColor      = "#4285F4"

	VehicleIconSize   = 56
	CollisionIconSize = 32

	VehicleZIndex     = 10
	RiskVehicleZIndex = 100
	CollisionZIndex   = 150
)

// CollidingNow is the text shown for a time-to-collision of zero.
const CollidingNow = "Colliding now!"

// TTCLabel renders a time-to-collision for display.
func TTCLabel(ttc float64) string {
	if ttc == 0 {
		return CollidingNow
	}
	return fmt.Sprintf("%.1fs until collision", ttc)
}

// MarkerColor returns the vehicle color for the given risk state.
func MarkerColor(risk bool) string {
	if risk {
		return RiskColor
	}
	return NormalColor
}

func fillColor(risk bool) string {
	if risk {
		return RiskFill
	}
	return NormalFill
}

func vehicleTitle(id core.VehicleID) string {
	return "Vehicle ID: " + strconv.FormatInt(int64(id), 10)
}

func collisionTitle(id core.CollisionID) string {
	return "Collision point: " + string(id)
}

const popupOpen = `<div style="padding:5px;width:150px;text-align:center;">`

// VehiclePopup renders the info popup of a vehicle.
func VehiclePopup(v core.VehicleSnapshot) string {
	var b strings.Builder
	b.WriteString(popupOpen)
	fmt.Fprintf(&b, "<strong>%s</strong><br>", vehicleTitle(v.ID))
	fmt.Fprintf(&b, "Speed: %.1f km/h<br>", v.SpeedKph)
	fmt.Fprintf(&b, "Heading: %.1f°<br>", v.Heading)
	switch {
	case v.IsCollisionRisk && v.HasTTC():
		fmt.Fprintf(&b, `<span style="color:red;font-weight:bold;">%s</span>`, TTCLabel(*v.TTC))
	case v.IsCollisionRisk:
		b.WriteString(`<span style="color:red;font-weight:bold;">Collision risk</span>`)
	default:
		b.WriteString(`<span style="color:green;">Safe</span>`)
	}
	b.WriteString("</div>")
	return b.String()
}

// CollisionPopup renders the info popup of a collision point.
func CollisionPopup(c core.CollisionSnapshot) string {
	var b strings.Builder
	b.WriteString(popupOpen)
	b.WriteString("<strong>Collision prediction</strong><br>")
	fmt.Fprintf(&b, "Vehicles: %s<br>", html.EscapeString(JoinVehicleIDs(c.VehicleIDs, " & ")))
	fmt.Fprintf(&b, `<span style="color:red;font-weight:bold;">%s</span>`, TTCLabel(c.TTC))
	b.WriteString("</div>")
	return b.String()
}

// JoinVehicleIDs formats ids separated by sep.
func JoinVehicleIDs(ids []core.VehicleID, sep string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(int64(id), 10)
	}
	return strings.Join(parts, sep)
}

// VehicleRender derives the appearance of a vehicle.
func VehicleRender(v core.VehicleSnapshot) registry.VehicleRender {
	color := MarkerColor(v.IsCollisionRisk)
	z := VehicleZIndex
	if v.IsCollisionRisk {
		z = RiskVehicleZIndex
	}
	rs := registry.VehicleRender{
		Position: v.Position,
		Icon: view.Icon{
			Kind:    view.IconVehicle,
			Color:   color,
			Heading: v.Heading,
			Size:    VehicleIconSize,
		},
		Title:  vehicleTitle(v.ID),
		ZIndex: z,
		Popup:  VehiclePopup(v),
	}
	if v.Footprint != nil {
		rs.Footprint = v.Footprint
		rs.FootprintStyle = view.ShapeStyle{
			StrokeColor:   color,
			StrokeWeight:  2,
			StrokeOpacity: 0.8,
			FillColor:     fillColor(v.IsCollisionRisk),
			FillOpacity:   0.5,
		}
	}
	return rs
}

// PathRender derives the appearance of a vehicle's paths.
func PathRender(p core.PathSnapshot) registry.PathRender {
	return registry.PathRender{
		Actual: p.ActualPath,
		ActualStyle: view.ShapeStyle{
			StrokeColor:   PathColor,
			StrokeWeight:  3,
			StrokeOpacity: 0.8,
		},
		Predicted: p.PredictedPath,
		PredictedStyle: view.ShapeStyle{
			StrokeColor:   PathColor,
			StrokeWeight:  2,
			StrokeOpacity: 0.5,
			Dashed:        true,
		},
	}
}

// CollisionRender derives the appearance of a collision point. High
// severity collisions pulse.
func CollisionRender(c core.CollisionSnapshot) registry.CollisionRender {
	return registry.CollisionRender{
		Position: c.Position,
		Icon: view.Icon{
			Kind:  view.IconCollision,
			Color: CollisionColor,
			Pulse: c.Severity() == core.SeverityHigh,
			Size:  CollisionIconSize,
		},
		Title:  collisionTitle(c.ID),
		ZIndex: CollisionZIndex,
		Popup:  CollisionPopup(c),
	}
}
