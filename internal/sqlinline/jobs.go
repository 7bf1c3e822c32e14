package sqlinline

const QInsertJob = `--sql 8ebcf036-28a8-409c-b7b7-d1303282ccb7
insert into jobs (id, owner_id, batch_id, row_index, status, progress, prompt_json, provider, aspect_ratio, created_at)
values ($1, $2, nullif($3, ''), $4, $5, $6, $7, $8, $9, now());
`

const QSelectJob = `--sql 2992e720-d3c8-4fa4-a6cf-7c47ac8ca403
select id, owner_id, coalesce(batch_id, ''), row_index, status, progress, prompt_json, provider, aspect_ratio,
       coalesce(result_asset_url, ''), coalesce(result_thumb_url, ''), coalesce(error_message, ''),
       created_at, started_at, completed_at
from jobs
where id = $1;
`

const QSelectPendingJobs = `--sql 47e3e1b0-89ff-46d5-8123-5649d9b5091a
select id, owner_id, coalesce(batch_id, ''), row_index, status, progress, prompt_json, provider, aspect_ratio,
       coalesce(result_asset_url, ''), coalesce(result_thumb_url, ''), coalesce(error_message, ''),
       created_at, started_at, completed_at
from jobs
where status = 'pending'
order by created_at asc, id asc;
`

const QSelectJobsByBatch = `--sql 12f2927d-0130-452f-b48b-932550c33dbd
select id, owner_id, coalesce(batch_id, ''), row_index, status, progress, prompt_json, provider, aspect_ratio,
       coalesce(result_asset_url, ''), coalesce(result_thumb_url, ''), coalesce(error_message, ''),
       created_at, started_at, completed_at
from jobs
where batch_id = $1
order by created_at asc, id asc;
`

// QClaimJob atomically claims the oldest eligible pending job. SKIP
// LOCKED keeps concurrent workers (including other processes) from
// claiming the same row; jobs whose batch has a stop request pending
// are excluded from the candidate set.
const QClaimJob = `--sql 95c2155a-eecd-430f-8269-75097fbc1a11
with next_job as (
    select j.id
    from jobs j
    left join batches b on b.id = j.batch_id
    where j.status = 'pending'
      and coalesce(b.stop_requested, false) = false
    order by j.created_at asc, j.id asc
    for update of j skip locked
    limit 1
),
updated as (
    update jobs
    set status = 'processing', started_at = now(), updated_at = now()
    where id in (select id from next_job)
    returning id, owner_id, coalesce(batch_id, ''), row_index, status, progress, prompt_json, provider, aspect_ratio,
              coalesce(result_asset_url, ''), coalesce(result_thumb_url, ''), coalesce(error_message, ''),
              created_at, started_at, completed_at
)
select * from updated;
`

// QUpdateJobStatus merges a patch and advances status in one guarded
// statement. The WHERE clause encodes the forward-only transition set
// plus same-status checkpoint writes, and rejects progress regressions;
// zero rows updated means the write conflicted with the current state.
const QUpdateJobStatus = `--sql 3d96f44f-6e74-494b-a760-20bd4e122f5f
update jobs
set status = $2,
    progress = coalesce($3, progress),
    result_asset_url = coalesce($4, result_asset_url),
    result_thumb_url = coalesce($5, result_thumb_url),
    error_message = coalesce($6, error_message),
    completed_at = case when $2 in ('completed', 'failed', 'stopped') then now() else completed_at end,
    updated_at = now()
where id = $1
  and (
        (status = $2 and status in ('pending', 'processing'))
     or (status = 'pending' and $2 in ('processing', 'stopped'))
     or (status = 'processing' and $2 in ('completed', 'failed', 'stopped'))
  )
  and coalesce($3, progress) >= progress
returning id, owner_id, coalesce(batch_id, ''), row_index, status, progress, prompt_json, provider, aspect_ratio,
          coalesce(result_asset_url, ''), coalesce(result_thumb_url, ''), coalesce(error_message, ''),
          created_at, started_at, completed_at;
`
