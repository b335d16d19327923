package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/ftahirops/pingmon/tracker"
)

// Operations reads these messages in western Indonesian time.
var wib = time.FixedZone("WIB", 7*3600)

var monthNames = [...]string{
	"Januari", "Februari", "Maret", "April", "Mei", "Juni",
	"Juli", "Agustus", "September", "Oktober", "November", "Desember",
}

// Stamp formats t for the message footers, with localized month names.
func Stamp(t time.Time) string {
	t = t.In(wib)
	return fmt.Sprintf("%d %s %d %02d:%02d:%02d WIB",
		t.Day(), monthNames[t.Month()-1], t.Year(),
		t.Hour(), t.Minute(), t.Second())
}

// AlertMessage announces the devices that crossed the failure threshold
// in one cycle as a single batched message.
func AlertMessage(entries []tracker.Entry, now time.Time) string {
	var b strings.Builder
	b.WriteString("🚨 *PERANGKAT TIDAK MERESPON* 🚨\n\n")
	fmt.Fprintf(&b, "Terdeteksi %d perangkat timeout berturut-turut:\n\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. *%s* (%s)\n", i+1, hostnameOr(e.Hostname, e.IP), e.IP)
		if e.Merk != "" {
			fmt.Fprintf(&b, "   🏷️ %s", e.Merk)
			if e.OS != "" {
				fmt.Fprintf(&b, " / %s", e.OS)
			}
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "   ❌ %d kali timeout", e.Count)
		if e.FirstTimeout != "" {
			fmt.Fprintf(&b, ", sejak %s", e.FirstTimeout)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n⚠️ Mohon segera dicek kondisi perangkat dan jaringannya.\n")
	fmt.Fprintf(&b, "\n⏰ %s", Stamp(now))
	return b.String()
}

// RecoveryMessage announces that an alerted device answers again.
func RecoveryMessage(e tracker.Entry, now time.Time) string {
	var b strings.Builder
	b.WriteString("✅ *PERANGKAT KEMBALI ONLINE* ✅\n\n")
	fmt.Fprintf(&b, "📍 *Hostname:* %s\n", hostnameOr(e.Hostname, e.IP))
	fmt.Fprintf(&b, "🌐 *IP Address:* %s\n", e.IP)
	fmt.Fprintf(&b, "📈 *Sempat timeout:* %d kali\n", e.Count)
	if e.FirstTimeout != "" {
		fmt.Fprintf(&b, "🕐 *Mulai timeout:* %s\n", e.FirstTimeout)
	}
	fmt.Fprintf(&b, "\n⏰ %s", Stamp(now))
	return b.String()
}

// IncidentMessage announces an automatic incident for a long outage.
func IncidentMessage(hostname, ip string, incidentID int64, downSince string, now time.Time) string {
	var b strings.Builder
	b.WriteString("📋 *INSIDEN OTOMATIS DIBUAT* 📋\n\n")
	fmt.Fprintf(&b, "📍 *Hostname:* %s\n", hostnameOr(hostname, ip))
	fmt.Fprintf(&b, "🌐 *IP Address:* %s\n", ip)
	fmt.Fprintf(&b, "🆔 *Nomor Insiden:* %d\n", incidentID)
	if downSince != "" {
		fmt.Fprintf(&b, "🕐 *Down sejak:* %s\n", downSince)
	}
	b.WriteString("\n⚠️ Perangkat down lebih dari 1 jam. Insiden telah dicatat di sistem.\n")
	fmt.Fprintf(&b, "\n⏰ %s", Stamp(now))
	return b.String()
}

// ShiftReportMessage summarizes task activity for one shift window.
func ShiftReportMessage(shift string, start, end time.Time, total, done, pending int, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *LAPORAN SHIFT %s* 📊\n\n", strings.ToUpper(shift))
	fmt.Fprintf(&b, "🕐 *Periode:* %s - %s\n",
		start.In(wib).Format("15:04"), end.In(wib).Format("15:04"))
	fmt.Fprintf(&b, "📝 *Total tugas:* %d\n", total)
	fmt.Fprintf(&b, "✅ *Selesai:* %d\n", done)
	fmt.Fprintf(&b, "⏳ *Belum selesai:* %d\n", pending)
	fmt.Fprintf(&b, "\n⏰ %s", Stamp(now))
	return b.String()
}

func hostnameOr(hostname, fallback string) string {
	if hostname != "" {
		return hostname
	}
	return fallback
}
