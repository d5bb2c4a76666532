package controller

import (
	"strconv"

	"github.com/gartstein/scd/internal/scd/cache"
	"github.com/gartstein/scd/internal/scd/models"
)

// namespaces are the cache namespaces of every service. They live in one
// place because a write to one entity type invalidates reads of the others.
type namespaces struct {
	entity map[string]entityNamespaces

	jobActiveByCompany    cache.Namespace
	jobActiveByContractor cache.Namespace

	timelogsForJob        cache.Namespace
	timelogsForContractor cache.Namespace

	paymentsForJob        cache.Namespace
	paymentsForTimelog    cache.Namespace
	paymentsForContractor cache.Namespace
	paymentTotal          cache.Namespace

	// stale lists what a write of each entity type makes stale besides the
	// written chain itself.
	stale map[string][]cache.Namespace
}

type entityNamespaces struct {
	latest  cache.Namespace
	history cache.Namespace
	// byUID holds immutable rows and is never invalidated.
	byUID cache.Namespace
}

func newNamespaces(ttl cache.TTLs) namespaces {
	ns := namespaces{entity: map[string]entityNamespaces{}}
	for _, t := range models.Types() {
		ns.entity[t.Name] = entityNamespaces{
			latest:  cache.Namespace{Name: t.Name + ":latest", TTL: ttl.Latest},
			history: cache.Namespace{Name: t.Name + ":history", TTL: ttl.History},
			byUID:   cache.Namespace{Name: t.Name + ":byUid", TTL: ttl.History},
		}
	}

	criteria := func(name string) cache.Namespace { return cache.Namespace{Name: name, TTL: ttl.Criteria} }
	ns.jobActiveByCompany = criteria("job:activeByCompany")
	ns.jobActiveByContractor = criteria("job:activeByContractor")
	ns.timelogsForJob = criteria("timelog:forJob")
	ns.timelogsForContractor = criteria("timelog:forContractor")
	ns.paymentsForJob = criteria("payment_line_item:forJob")
	ns.paymentsForTimelog = criteria("payment_line_item:forTimelog")
	ns.paymentsForContractor = criteria("payment_line_item:forContractor")
	ns.paymentTotal = cache.Namespace{Name: "payment_line_item:totalForContractor", TTL: ttl.Aggregate}

	ns.stale = map[string][]cache.Namespace{
		// contractor lookups of timelogs and payments go through jobs
		models.JobEntity.Name: {
			ns.jobActiveByCompany, ns.jobActiveByContractor,
			ns.timelogsForContractor,
			ns.paymentsForContractor, ns.paymentTotal,
		},
		models.TimelogEntity.Name: {
			ns.timelogsForJob, ns.timelogsForContractor,
			ns.paymentsForContractor, ns.paymentTotal,
		},
		models.PaymentLineItemEntity.Name: {
			ns.paymentsForJob, ns.paymentsForTimelog, ns.paymentsForContractor, ns.paymentTotal,
		},
	}
	return ns
}

// evictions returns every cache entry made stale by a new version of id.
func (n namespaces) evictions(entity, id string) []cache.Eviction {
	own := n.entity[entity]
	out := []cache.Eviction{
		{Namespace: own.latest, Key: id},
		{Namespace: own.history, Key: id},
	}
	for _, ns := range n.stale[entity] {
		out = append(out, cache.Eviction{Namespace: ns, All: true})
	}
	return out
}

func windowKey(owner string, start, end int64) string {
	return cache.Key(owner, strconv.FormatInt(start, 10), strconv.FormatInt(end, 10))
}
