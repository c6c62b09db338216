package agenda

import (
	"context"
	"fmt"
	"time"

	"github.com/tremedam/Agendamento-Pro/internal/overlay"
	"github.com/tremedam/Agendamento-Pro/internal/shared"
)

// ApprovalSource exposes simulated approvals recorded for demonstration ids.
type ApprovalSource interface {
	SimulatedApproval(id string) (overlay.SimulatedApproval, bool)
}

// Fallback serves a fixed demonstration dataset when the system of record is
// unreachable. Simulated approvals are applied on every read.
type Fallback struct {
	approvals ApprovalSource
	items     []Schedule
}

// NewFallback builds the demonstration provider. approvals may be nil.
func NewFallback(approvals ApprovalSource) *Fallback {
	return &Fallback{approvals: approvals, items: demoSchedules()}
}

// FetchAll implements Provider.
func (f *Fallback) FetchAll(_ context.Context, role shared.Role) ([]Schedule, error) {
	out := make([]Schedule, 0, len(f.items))
	for _, item := range f.items {
		out = append(out, f.apply(item))
	}
	return filterForRole(out, role), nil
}

// Get implements Provider.
func (f *Fallback) Get(_ context.Context, id string) (Schedule, error) {
	for _, item := range f.items {
		if item.ID == id {
			return f.apply(item), nil
		}
	}
	return Schedule{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (f *Fallback) apply(item Schedule) Schedule {
	if f.approvals == nil {
		return item
	}
	entry, ok := f.approvals.SimulatedApproval(item.ID)
	if !ok {
		return item
	}
	at := entry.At
	item.ApprovalStatus = string(entry.Status)
	switch entry.Status {
	case overlay.StatusApproved:
		item.ApprovedBy = entry.Actor
		item.ApprovedAt = &at
	case overlay.StatusRejected:
		item.RejectedBy = entry.Actor
		item.RejectedAt = &at
		item.Motive = entry.Motive
	}
	return item
}

func demoSchedules() []Schedule {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	stamp := func(y int, m time.Month, d, h, mm int) time.Time { return time.Date(y, m, d, h, mm, 0, 0, time.UTC) }
	sim := func(id, code, desc, supplier, status string, date time.Time, qty, balance float64, notes, store, nf string, total float64, updated time.Time) Schedule {
		return Schedule{
			ID: id, ProductCode: code, Description: desc, Supplier: supplier,
			DeliveryStatus: status, DeliveryDate: date, Quantity: qty, Balance: balance,
			Notes: notes, Store: store, InvoiceNumber: nf, TotalValue: total,
			ApprovalStatus: StatusPending, UpdatedAt: updated, Origin: OriginSimulated,
		}
	}
	return []Schedule{
		sim("SIM_001", "PROD001", "Produto Simulado 1", "Fornecedor Teste", "Prev. Entrega em Atraso", day(2024, 12, 25), 100, 100, "Dados simulados - base indisponível", "LOJA01", "NF123456", 1500, stamp(2024, 12, 1, 10, 0)),
		sim("SIM_002", "PROD002", "Produto Simulado 2", "Fornecedor Demo", "Agendado", day(2024, 12, 26), 50, 45, "Item aprovado em simulação", "LOJA02", "NF789012", 800, stamp(2024, 12, 1, 11, 30)),
		sim("SIM_003", "PROD003", "Cabo de Rede Cat6 100M", "TechNet Distribuidora", "Agendado", day(2025, 11, 15), 200, 200, "Material para infraestrutura", "LOJA03", "NF345678", 2500, stamp(2025, 11, 11, 8, 0)),
		sim("SIM_004", "PROD004", "Switch Gerenciável 24 Portas", "InfoTech Solutions", "Prev. Sem Agenda", day(2025, 11, 20), 5, 5, "Equipamento de alta prioridade", "LOJA01", "NF456789", 8500, stamp(2025, 11, 11, 9, 15)),
		sim("SIM_005", "PROD005", "Servidor HP DL360 Gen10", "ServerMax Importadora", "Agendado", day(2025, 11, 18), 2, 2, "Servidor para datacenter - entrega urgente", "LOJA02", "NF567890", 45000, stamp(2025, 11, 11, 10, 30)),
		sim("SIM_006", "PROD006", "Roteador Wireless AC Dual Band", "ConnectMax Distribuidora", "Prev. Entrega em Atraso", day(2025, 11, 5), 30, 30, "Atraso confirmado pelo fornecedor", "LOJA03", "NF678901", 4200, stamp(2025, 11, 11, 11, 45)),
		sim("SIM_007", "PROD007", "Câmera IP 4MP Bullet Externa", "SecureTech Sistemas", "Agendado", day(2025, 11, 22), 48, 48, "Kit de segurança para projeto comercial", "LOJA01", "NF789013", 12800, stamp(2025, 11, 11, 13, 0)),
		sim("SIM_008", "PROD008", "Nobreak 3000VA Rack 2U", "PowerGuard Brasil", "Agendado", day(2025, 11, 25), 8, 8, "Proteção elétrica para servidores", "LOJA02", "NF890123", 6400, stamp(2025, 11, 11, 14, 20)),
		sim("SIM_009", "PROD009", "Patch Panel 48 Portas Cat6", "ElectroMax Distribuidora", "Prev. Sem Agenda", day(2025, 11, 28), 15, 15, "Produto de alta demanda - priorizar", "LOJA03", "NF901234", 1800, stamp(2025, 11, 11, 15, 35)),
		sim("SIM_010", "PROD010", "Rack Fechado 42U 800x1000mm", "DataCenter Equipment", "Agendado", day(2025, 11, 30), 3, 3, "Produto importado - documentação em ordem", "LOJA01", "NF012345", 9600, stamp(2025, 11, 11, 16, 50)),
		{
			ID: "gemco_1001", ProductCode: "101001", Description: "Produto GEMCO Exemplo 1",
			Supplier: "Fornecedor GEMCO A", DeliveryStatus: "Confirmado", DeliveryDate: day(2025, 9, 2),
			Quantity: 15, Balance: 15, Notes: "Dados simulados do GEMCO",
			ApprovalStatus: StatusApproved, Origin: OriginGEMCO,
		},
		{
			ID: "gemco_1002", ProductCode: "101002", Description: "Produto GEMCO Exemplo 2",
			Supplier: "Fornecedor GEMCO B", DeliveryStatus: "Pendente", DeliveryDate: day(2025, 9, 3),
			Quantity: 8, Balance: 8, Notes: "Dados simulados do GEMCO",
			ApprovalStatus: StatusPending, Origin: OriginGEMCO,
		},
	}
}
