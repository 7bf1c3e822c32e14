package sqlinline

const QInsertBatch = `--sql 167886ee-231e-4fb8-ac30-4915cc45f807
insert into batches (id, owner_id, total, done, failed, status, stop_requested, error_details, created_at, updated_at)
values ($1, $2, $3, 0, 0, $4, false, '[]'::jsonb, now(), now());
`

const QSelectBatch = `--sql c5acf370-aa8e-4a9d-9f1e-920c936f57bf
select id, owner_id, total, done, failed, status, stop_requested,
       coalesce(artifact_url, ''), coalesce(error_message, ''), error_details, created_at, updated_at
from batches
where id = $1;
`

// QMarkBatchStop flags the batch for cooperative stop. Terminal batches
// are left untouched; zero rows updated distinguishes them.
const QMarkBatchStop = `--sql a7951682-a258-41c6-9d26-dbe7044a5092
update batches
set stop_requested = true, updated_at = now()
where id = $1
  and status not in ('completed', 'stopped', 'failed')
returning id, owner_id, total, done, failed, status, stop_requested,
          coalesce(artifact_url, ''), coalesce(error_message, ''), error_details, created_at, updated_at;
`

// QAddBatchOutcome serializes sibling-job completions racing on the
// same counters: the guarded update is a single atomic increment and
// the done+failed < total check keeps the invariant under concurrency.
const QAddBatchOutcome = `--sql 9e7a85de-1a60-4f10-ae1c-b2e1f6bf2a76
update batches
set done = done + case when $2 then 0 else 1 end,
    failed = failed + case when $2 then 1 else 0 end,
    status = case when status = 'pending' then 'processing' else status end,
    error_details = case when $3::jsonb is null then error_details else error_details || $3::jsonb end,
    updated_at = now()
where id = $1
  and status not in ('completed', 'stopped', 'failed')
  and done + failed < total
returning id, owner_id, total, done, failed, status, stop_requested,
          coalesce(artifact_url, ''), coalesce(error_message, ''), error_details, created_at, updated_at;
`

// QFinishBatch moves a batch to a terminal status. The artifact URL is
// written at most once and the counters freeze with the row.
const QFinishBatch = `--sql f97cddba-3b3d-4792-b29a-bf9cacea8155
update batches
set status = $2,
    artifact_url = coalesce(artifact_url, nullif($3, '')),
    error_message = coalesce(nullif($4, ''), error_message),
    updated_at = now()
where id = $1
  and status not in ('completed', 'stopped', 'failed')
returning id, owner_id, total, done, failed, status, stop_requested,
          coalesce(artifact_url, ''), coalesce(error_message, ''), error_details, created_at, updated_at;
`
